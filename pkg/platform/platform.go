package platform

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/OpenPeeDeeP/xdg"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/types"
)

// ConfigDir returns the root directory for user configuration files
// (~/.config on Linux, ~/Library/Preferences on macOS, %APPDATA% on Windows).
func ConfigDir() string {
	return xdg.ConfigHome()
}

// DataDir returns the root directory for user data files
// (~/.local/share on Linux).
func DataDir() string {
	return xdg.DataHome()
}

// CacheDir returns the root directory for disposable cache files
// (~/.cache on Linux).
func CacheDir() string {
	return xdg.CacheHome()
}

// StateDir returns the root for mutable per-user state. Linux follows the
// XDG state spec ($XDG_STATE_HOME, default ~/.local/state); other platforms
// keep state under the home directory.
func StateDir() string {
	if runtime.GOOS == "linux" {
		if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
			return dir
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "state")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// HomeDir returns the current user's home directory.
func HomeDir() (string, error) {
	return os.UserHomeDir()
}

// BinDir returns the directory where user-level binaries are installed.
func BinDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(xdg.DataHome(), "vm", "bin")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "bin")
	}
	return filepath.Join(home, ".local", "bin")
}

// GlobalConfigPath returns the path of the global config file.
func GlobalConfigPath() string {
	return filepath.Join(ConfigDir(), "vm", "global.yaml")
}

// PortRegistryPath returns the path of the cross-project port registry.
func PortRegistryPath() string {
	return filepath.Join(StateDir(), ".vm", "port-registry.json")
}

// PluginsDir returns the root of the user plugin tree.
func PluginsDir() string {
	return filepath.Join(StateDir(), ".vm", "plugins")
}

// SecretsDir returns the directory holding generated service passwords.
func SecretsDir() string {
	return filepath.Join(StateDir(), ".vm", "secrets")
}

// SnapshotsDir returns the root of the snapshot store.
func SnapshotsDir() string {
	return filepath.Join(ConfigDir(), "snapshots")
}

// WorkspaceStatePath returns the path of the workspace store database.
func WorkspaceStatePath() string {
	return filepath.Join(DataDir(), "vm", "state.db")
}

// DetectShell classifies the user's login shell from $SHELL, falling back
// to COMSPEC on Windows.
func DetectShell() types.Shell {
	shell := os.Getenv("SHELL")
	if shell == "" {
		if runtime.GOOS == "windows" {
			comspec := strings.ToLower(filepath.Base(os.Getenv("COMSPEC")))
			if strings.Contains(comspec, "powershell") || strings.Contains(comspec, "pwsh") {
				return types.ShellPowershell
			}
			return types.ShellCmd
		}
		return types.ShellPosix
	}

	switch filepath.Base(shell) {
	case "zsh":
		return types.ShellZsh
	case "fish":
		return types.ShellFish
	case "pwsh", "powershell", "powershell.exe":
		return types.ShellPowershell
	case "cmd", "cmd.exe":
		return types.ShellCmd
	default:
		return types.ShellPosix
	}
}

// DockerBridgeHost returns the address containers use to reach services
// listening on the host: the default bridge gateway on Linux, the Docker
// Desktop alias everywhere else.
func DockerBridgeHost() string {
	if runtime.GOOS == "linux" {
		return "172.17.0.1"
	}
	return "host.docker.internal"
}

// PathSeparator returns the PATH list separator for the current OS.
func PathSeparator() string {
	return string(os.PathListSeparator)
}

// SplitPATH splits a PATH-style value into its entries.
func SplitPATH(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator())
}

// JoinPATH joins entries into a PATH-style value.
func JoinPATH(entries []string) string {
	return strings.Join(entries, PathSeparator())
}

// InstallBinary makes src callable as name from the user's PATH. Unix gets
// a symlink in BinDir; Windows gets a copy plus .bat and .ps1 wrappers so
// the command resolves from both shells. Returns the installed path.
func InstallBinary(src, name string) (string, error) {
	return installBinaryTo(BinDir(), src, name)
}

func installBinaryTo(binDir, src, name string) (string, error) {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", errdefs.WrapFilesystem("mkdir", binDir, err)
	}

	if runtime.GOOS != "windows" {
		dst := filepath.Join(binDir, name)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return "", errdefs.WrapFilesystem("remove", dst, err)
		}
		if err := os.Symlink(src, dst); err != nil {
			return "", errdefs.WrapFilesystem("symlink", dst, err)
		}
		return dst, nil
	}

	dst := filepath.Join(binDir, name+".exe")
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	bat := filepath.Join(binDir, name+".bat")
	if err := os.WriteFile(bat, []byte("@echo off\r\n\""+dst+"\" %*\r\n"), 0o755); err != nil {
		return "", errdefs.WrapFilesystem("write", bat, err)
	}
	ps1 := filepath.Join(binDir, name+".ps1")
	if err := os.WriteFile(ps1, []byte("& \""+dst+"\" @args\r\n"), 0o755); err != nil {
		return "", errdefs.WrapFilesystem("write", ps1, err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errdefs.WrapFilesystem("open", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return errdefs.WrapFilesystem("create", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errdefs.WrapFilesystem("copy", dst, err)
	}
	return nil
}
