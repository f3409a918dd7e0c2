package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// passwordBytes is the entropy per generated password (hex doubles it).
const passwordBytes = 16

// Password returns the stable generated password for a service, creating
// it on first use. Passwords live in <state>/.vm/secrets/<service>.env with
// mode 0600 and are regenerated only if the file goes missing.
func Password(service string) (string, error) {
	return passwordAt(filepath.Join(platform.SecretsDir(), service+".env"), service)
}

func passwordAt(path, service string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if pw := parsePasswordEnv(string(data)); pw != "" {
			return pw, nil
		}
	} else if !os.IsNotExist(err) {
		return "", errdefs.WrapFilesystem("read", path, err)
	}

	buf := make([]byte, passwordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errdefs.Internalf("generate password: %v", err)
	}
	pw := hex.EncodeToString(buf)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errdefs.WrapFilesystem("mkdir", dir, err)
	}
	content := fmt.Sprintf("%s=%s\n", passwordKey(service), pw)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", errdefs.WrapFilesystem("write", path, err)
	}
	return pw, nil
}

func passwordKey(service string) string {
	return strings.ToUpper(service) + "_PASSWORD"
}

// parsePasswordEnv extracts the first KEY=VALUE value from an env file.
func parsePasswordEnv(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, value, ok := strings.Cut(line, "="); ok {
			return value
		}
	}
	return ""
}
