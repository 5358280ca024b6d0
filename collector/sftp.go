package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/pkg/sftp"
)

// SFTPCollector reads a file on a remote host over SFTP, e.g.
// /proc/diskstats or a status file dropped by a cron job, and parses it.
type SFTPCollector struct {
	conn   sshConn
	Path   string
	Parser Parser // nil -> ParseKeyValues
}

func NewSFTPCollector(opts SSHOptions, path string, parser Parser) *SFTPCollector {
	return &SFTPCollector{conn: sshConn{opts: opts}, Path: path, Parser: parser}
}

func (s *SFTPCollector) Collect(ctx context.Context) (map[string]float64, error) {
	client, err := s.conn.get(ctx)
	if err != nil {
		return nil, err
	}

	var (
		metrics map[string]float64
		// the file was reached but is missing or unusable; the connection is fine
		fileErr bool
	)
	parse := s.Parser
	if parse == nil {
		parse = ParseKeyValues
	}
	err = withDeadline(ctx, &s.conn, client, func() error {
		sftpClient, err := sftp.NewClient(client)
		if err != nil {
			return fmt.Errorf("open sftp: %w", err)
		}
		defer sftpClient.Close()

		remoteFile, err := sftpClient.Open(s.Path)
		if err != nil {
			var status *sftp.StatusError
			fileErr = errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.As(err, &status)
			return fmt.Errorf("open remote file %s: %w", s.Path, err)
		}
		defer remoteFile.Close()

		metrics, err = parse(io.LimitReader(remoteFile, maxBodyBytes))
		if len(metrics) > 0 {
			return nil
		}
		if err == nil {
			fileErr = true
			err = errors.New("no metrics in file")
		}
		return err
	})
	if err != nil {
		if !fileErr {
			s.conn.drop(client)
		}
		return nil, fmt.Errorf("read %s from %s: %w", s.Path, s.conn.opts.Addr, err)
	}
	return metrics, nil
}

func (s *SFTPCollector) Close() error {
	return s.conn.Close()
}
