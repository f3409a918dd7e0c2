package compose

import (
	"os"
	"path/filepath"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// BuildContext is a synthesized docker build context on disk. It lives
// under the cache dir and is removed when the workspace is destroyed.
type BuildContext struct {
	// Dir is the context root.
	Dir string

	// ComposePath is the rendered compose.yaml inside Dir.
	ComposePath string

	// DockerfilePath is the rendered Dockerfile inside Dir.
	DockerfilePath string

	// ConfigPath is the effective vm.yaml inside Dir, copied into the
	// container for the provisioning playbook.
	ConfigPath string
}

// Synthesize materializes a build context for one workspace instance:
// rendered Dockerfile and compose.yaml, the provisioning playbook, the
// shell rc template, and the effective vm.yaml.
func Synthesize(in Input) (*BuildContext, error) {
	cacheDir := platform.CacheDir()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", cacheDir, err)
	}

	dir, err := os.MkdirTemp(cacheDir, "build-"+in.Config.Project.Name+"-*")
	if err != nil {
		return nil, errdefs.WrapFilesystem("mkdtemp", cacheDir, err)
	}

	ctx, err := populate(dir, in)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return ctx, nil
}

func populate(dir string, in Input) (*BuildContext, error) {
	dockerfile, err := RenderDockerfile(in)
	if err != nil {
		return nil, err
	}
	composeYAML, err := RenderCompose(in)
	if err != nil {
		return nil, err
	}
	configYAML, err := in.Config.Marshal()
	if err != nil {
		return nil, err
	}

	ctx := &BuildContext{
		Dir:            dir,
		ComposePath:    filepath.Join(dir, "compose.yaml"),
		DockerfilePath: filepath.Join(dir, "Dockerfile"),
		ConfigPath:     filepath.Join(dir, "vm.yaml"),
	}

	files := map[string][]byte{
		ctx.DockerfilePath: []byte(dockerfile),
		ctx.ComposePath:    []byte(composeYAML),
		ctx.ConfigPath:     configYAML,
	}
	for path, data := range files {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, errdefs.WrapFilesystem("write", path, err)
		}
	}

	provisionDir := filepath.Join(dir, "provision")
	if err := os.MkdirAll(provisionDir, 0o755); err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", provisionDir, err)
	}
	shared := map[string]string{
		"templates/provision.yml": filepath.Join(provisionDir, "provision.yml"),
		"templates/vmrc.sh.tmpl":  filepath.Join(dir, "vmrc.sh.tmpl"),
	}
	for src, dst := range shared {
		data, err := templates.ReadFile(src)
		if err != nil {
			return nil, errdefs.Internalf("read embedded %s: %v", src, err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, errdefs.WrapFilesystem("write", dst, err)
		}
	}

	return ctx, nil
}

// Remove deletes the build context directory.
func (c *BuildContext) Remove() error {
	if c == nil || c.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(c.Dir); err != nil {
		return errdefs.WrapFilesystem("remove", c.Dir, err)
	}
	return nil
}
