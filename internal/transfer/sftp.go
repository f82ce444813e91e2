// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tombee/catsync/internal/config"
	catsynclog "github.com/tombee/catsync/internal/log"
	"github.com/tombee/catsync/pkg/errors"
)

// SFTPUploader ships the published export files.
type SFTPUploader struct {
	cfg    config.SFTPConfig
	logger *slog.Logger

	// HostKeyCallback verifies the remote host key. Defaults to
	// accepting any key; production deployments should pin one.
	HostKeyCallback ssh.HostKeyCallback
}

// NewSFTPUploader creates an uploader.
func NewSFTPUploader(cfg config.SFTPConfig, logger *slog.Logger) *SFTPUploader {
	return &SFTPUploader{
		cfg:             cfg,
		logger:          catsynclog.WithComponent(logger, "sftp"),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}

// Upload writes every file into the configured base directory,
// overwriting existing names. Files are sent in sorted-name order so
// transfers are deterministic.
func (u *SFTPUploader) Upload(ctx context.Context, files map[string][]byte) error {
	if !u.cfg.Complete() {
		return &errors.ConfigError{
			Key:    "sftp",
			Reason: fmt.Sprintf("missing settings: %v", u.cfg.MissingKeys()),
		}
	}

	sshCfg := &ssh.ClientConfig{
		User:            u.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(u.cfg.Password)},
		HostKeyCallback: u.HostKeyCallback,
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", u.cfg.Host, u.cfg.Port)
	sshConn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return fmt.Errorf("ssh dial %s failed: %w", addr, err)
	}
	defer sshConn.Close()

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		return fmt.Errorf("sftp session failed: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(u.cfg.BaseDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", u.cfg.BaseDir, err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		remote := path.Join(u.cfg.BaseDir, name)
		start := time.Now()
		if err := u.put(client, remote, files[name]); err != nil {
			return fmt.Errorf("upload %s failed: %w", name, err)
		}
		u.logger.Info("file uploaded",
			slog.String("remote", remote),
			slog.Int("bytes", len(files[name])),
			catsynclog.Duration("duration_ms", time.Since(start).Milliseconds()))
	}
	return nil
}

func (u *SFTPUploader) put(client *sftp.Client, remote string, data []byte) error {
	f, err := client.Create(remote)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
