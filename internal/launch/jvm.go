// Package launch detects JVM installations, assembles server flags, and
// starts the server process.
package launch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// javacVersionPattern matches both legacy ("javac 1.8.0_292") and modern
// ("javac 17.0.2") version reports.
var javacVersionPattern = regexp.MustCompile(`^javac (1\.(\d+)\.\S+|(\d+)\.[\S.]+)$`)

// JVM is one detected Java installation.
type JVM struct {
	BasePath string
	Number   int    // major version number
	Version  string // full version name
}

// JavaBin returns the java executable path of this installation.
func (j JVM) JavaBin() string {
	return filepath.Join(j.BasePath, "bin", "java")
}

// DetectFromDir probes one installation directory via its javac.
func DetectFromDir(basePath string) (JVM, error) {
	javac := filepath.Join(basePath, "bin", "javac")
	if _, err := os.Stat(javac); err != nil {
		return JVM{}, fmt.Errorf("unable to find javac: %s", javac)
	}
	out, err := exec.Command(javac, "-version").CombinedOutput()
	if err != nil {
		return JVM{}, fmt.Errorf("run %s -version: %w", javac, err)
	}
	raw := strings.TrimSpace(string(out))
	m := javacVersionPattern.FindStringSubmatch(raw)
	if m == nil {
		return JVM{}, fmt.Errorf("unable to match javac version: %q", raw)
	}
	numberStr := m[2]
	if numberStr == "" {
		numberStr = m[3]
	}
	number, err := strconv.Atoi(numberStr)
	if err != nil {
		return JVM{}, fmt.Errorf("unable to parse javac major version: %q", raw)
	}
	return JVM{BasePath: basePath, Number: number, Version: m[1]}, nil
}

// DetectAll scans jvmDir for installations, skipping symlinks and files.
func DetectAll(jvmDir string) ([]JVM, error) {
	entries, err := os.ReadDir(jvmDir)
	if err != nil {
		return nil, fmt.Errorf("unable to search for JVMs in %s: %w", jvmDir, err)
	}
	var found []JVM
	for _, entry := range entries {
		full := filepath.Join(jvmDir, entry.Name())
		info, err := os.Lstat(full)
		if err != nil || !info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		jvm, err := DetectFromDir(full)
		if err != nil {
			continue
		}
		found = append(found, jvm)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("didn't find any JVMs in %s", jvmDir)
	}
	return found, nil
}

// Pick selects a JVM: the highest available, or the highest matching the
// requested major number when desired > 0.
func Pick(available []JVM, desired int) (JVM, error) {
	var best JVM
	found := false
	for _, jvm := range available {
		if desired > 0 && jvm.Number != desired {
			continue
		}
		if !found || jvm.Number > best.Number {
			best = jvm
			found = true
		}
	}
	if !found {
		return JVM{}, fmt.Errorf("no JVM with major version %d available", desired)
	}
	return best, nil
}
