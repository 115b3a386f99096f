/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/transport-uds/internal/sys"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	config := DefaultConfig()
	s.Require().Nil(VerifyConfig(config))

	config.SendChunkSize = frameHeaderSize - 1
	s.Require().NotNil(VerifyConfig(config))
	config.SendChunkSize = 4096

	config.ReadChunkSize = 0
	s.Require().NotNil(VerifyConfig(config))
	config.ReadChunkSize = 4096

	config.QueueWarnBytes = -1
	s.Require().NotNil(VerifyConfig(config))
	config.QueueWarnBytes = 4 << 20

	config.ConnectTimeout = 0
	s.Require().NotNil(VerifyConfig(config))
	config.ConnectTimeout = 10 * time.Second

	config.ConnectInitialInterval = 0
	s.Require().NotNil(VerifyConfig(config))
	config.ConnectInitialInterval = 10 * time.Millisecond

	s.Require().Nil(VerifyConfig(config))
}

func (s *ConfigTestSuite) TestAdoptRejectsWrongConfig() {
	fd1, fd2, err := sys.Socketpair()
	s.Require().Nil(err)
	defer sys.Close(fd2) //nolint:errcheck

	config := DefaultConfig()
	config.SendChunkSize = 1
	h := NewHandle(fd1)
	tr, err := Adopt(h, config)
	s.Require().NotNil(err)
	s.Require().Nil(tr)
	s.Require().Nil(h.Close())
}

func (s *ConfigTestSuite) TestConnectBackoffBounds() {
	config := DefaultConfig()
	config.ConnectInitialInterval = 5 * time.Millisecond
	config.ConnectTimeout = 250 * time.Millisecond

	b := config.connectBackoff()
	first := b.NextBackOff()
	s.Require().True(first >= 0)
	s.Require().True(first <= 50*time.Millisecond)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
