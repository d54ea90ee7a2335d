package cms

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// OpenSSLSigner shells out to `openssl smime -sign`. The document is fed on
// stdin and the DER signature read from stdout, so nothing touches disk.
type OpenSSLSigner struct {
	Binary   string
	CertPath string
	KeyPath  string
	Logger   *zap.Logger
}

func NewOpenSSLSigner(binary, certPath, keyPath string, logger *zap.Logger) *OpenSSLSigner {
	if binary == "" {
		binary = "openssl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenSSLSigner{Binary: binary, CertPath: certPath, KeyPath: keyPath, Logger: logger}
}

func (s *OpenSSLSigner) args() []string {
	return []string{
		"smime", "-sign",
		"-signer", s.CertPath,
		"-inkey", s.KeyPath,
		"-outform", "DER",
		"-nodetach",
	}
}

func (s *OpenSSLSigner) Sign(ctx context.Context, content []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.Binary, s.args()...)
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.Logger.Debug("invoking openssl", zap.String("binary", s.Binary), zap.String("cert", s.CertPath))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg != "" {
			return nil, signingError(fmt.Errorf("openssl smime: %w: %s", err, msg))
		}
		return nil, signingError(fmt.Errorf("openssl smime: %w", err))
	}
	if stdout.Len() == 0 {
		return nil, signingError(fmt.Errorf("openssl smime produced no output"))
	}
	return stdout.Bytes(), nil
}
