// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, Init("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	_, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	require.NoError(t, Init("warn", "text"))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	assert.Error(t, Init("loud", "text"))
	assert.Error(t, Init("info", "xml"))
}

func TestFor(t *testing.T) {
	entry := For("ranker")
	assert.Equal(t, "ranker", entry.Data["component"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	e := For("x")
	assert.Same(t, e, OrNop(e))
}
