package browser

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

const profileAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// ProfileName reads the persisted browser profile name from path, creating
// one ("user_" plus 8 random characters) on first use.
func ProfileName(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if name := strings.TrimSpace(string(data)); name != "" {
			return name, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read profile file: %w", err)
	}

	name := newProfileName()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create profile file dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(name), 0o600); err != nil {
		return "", fmt.Errorf("write profile file: %w", err)
	}
	return name, nil
}

// ProfileDir returns the Chrome user data dir for a profile.
func ProfileDir(root, name string) string {
	return filepath.Join(root, name)
}

func newProfileName() string {
	var b strings.Builder
	b.WriteString("user_")
	for i := 0; i < 8; i++ {
		b.WriteByte(profileAlphabet[rand.IntN(len(profileAlphabet))])
	}
	return b.String()
}
