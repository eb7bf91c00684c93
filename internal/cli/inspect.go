package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-blefota/bundle"
)

var inspectVerifyKey string

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <package.zip>",
		Short: "Show the contents of an update package",
		Long: `Show the manifest of an update package: versions, binaries and entry address.
With --verify-key the signed release note is checked against the key and
every artifact digest it commits to.

Examples:
  blefota inspect release-42.zip
  blefota inspect release-42.zip --verify-key ~/.blefota/release.vkey`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}

			pkg, err := bundle.Open(expandHomePath(args[0]))
			if err != nil {
				return err
			}

			res := inspectOf(args[0], pkg)
			if inspectVerifyKey != "" {
				key, err := readVerifierKey(inspectVerifyKey)
				if err != nil {
					return err
				}
				verifiers, err := bundle.NewVerifier(key)
				if err != nil {
					return err
				}
				rel, err := bundle.VerifyRelease(pkg, verifiers)
				if err != nil {
					return err
				}
				res.Release = &releaseResult{Verified: true, Description: rel.Description}
				for name := range rel.ArtifactSHA256 {
					res.Release.Artifacts = append(res.Release.Artifacts, name)
				}
				sort.Strings(res.Release.Artifacts)
			}

			return e.out.Write(res)
		},
	}

	cmd.Flags().StringVar(&inspectVerifyKey, "verify-key", "", "Release note verifier key, or a file containing it")

	return cmd
}

// readVerifierKey returns the key itself, or the content of the file it names.
func readVerifierKey(s string) (string, error) {
	path := expandHomePath(s)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return strings.TrimSpace(string(data)), nil
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	default:
		return "", fmt.Errorf("verifier key: %w", err)
	}
}

type binaryResult struct {
	Role     string `json:"role" yaml:"role"`
	Name     string `json:"name" yaml:"name"`
	Size     int    `json:"size" yaml:"size"`
	LoadAddr string `json:"load_addr" yaml:"load_addr"`
}

type releaseResult struct {
	Verified    bool     `json:"verified" yaml:"verified"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Artifacts   []string `json:"artifacts" yaml:"artifacts"`
}

type inspectResult struct {
	Path     string         `json:"path" yaml:"path"`
	Version  versionResult  `json:"version" yaml:"version"`
	Entry    string         `json:"entry" yaml:"entry"`
	Binaries []binaryResult `json:"binaries" yaml:"binaries"`
	Files    []string       `json:"files" yaml:"files"`
	Readme   string         `json:"readme,omitempty" yaml:"readme,omitempty"`
	Release  *releaseResult `json:"release,omitempty" yaml:"release,omitempty"`
}

func inspectOf(path string, pkg *bundle.Package) *inspectResult {
	res := &inspectResult{
		Path:    path,
		Version: versionOf(pkg.Version),
		Entry:   fmt.Sprintf("0x%08X", pkg.Entry),
		Files:   pkg.Files(),
		Readme:  pkg.Readme,
	}

	add := func(role string, b bundle.Binary) {
		res.Binaries = append(res.Binaries, binaryResult{
			Role:     role,
			Name:     b.Name,
			Size:     len(b.Data),
			LoadAddr: fmt.Sprintf("0x%08X", b.LoadAddr),
		})
	}
	if pkg.Platform != nil {
		add("platform", *pkg.Platform)
	}
	if pkg.App != nil {
		add("app", *pkg.App)
	}
	for _, b := range pkg.Extra {
		add("extra", b)
	}
	return res
}

func (r *inspectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package:  %s\n", r.Path)
	fmt.Fprintf(&b, "Platform: %s\n", r.Version.Platform)
	fmt.Fprintf(&b, "App:      %s\n", r.Version.App)
	fmt.Fprintf(&b, "Entry:    %s\n", r.Entry)
	b.WriteString("Binaries:\n")
	for _, bin := range r.Binaries {
		fmt.Fprintf(&b, "  %-8s %-24s %8d bytes at %s\n", bin.Role, bin.Name, bin.Size, bin.LoadAddr)
	}
	if r.Release != nil {
		fmt.Fprintf(&b, "Release:  verified, %d artifacts", len(r.Release.Artifacts))
		if r.Release.Description != "" {
			fmt.Fprintf(&b, " (%s)", r.Release.Description)
		}
		b.WriteString("\n")
	}
	if r.Readme != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimRight(r.Readme, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}
