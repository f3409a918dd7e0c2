/*
Package errdefs defines the error taxonomy shared by every component of the
orchestrator.

Errors are classified into failure domains (Kind) so that callers can branch
on the class of failure instead of matching message strings, and so the API
layer can map any error to an HTTP status code with one call.

# Failure Domains

  - validation: invalid user input (configs, port ranges, provider tags)
  - dependency: a required host binary is missing (docker, nerdctl, limactl)
  - provider: a virtualization backend reported a failure
  - command: a host command exited non-zero
  - timeout: a host command exceeded its deadline
  - filesystem: a filesystem operation failed
  - internal: everything else

Two sentinels sit outside the domains: ErrNotFound for missing records and
ErrUnauthorized for requests with no caller identity.

# Usage

Creating tagged errors:

	return errdefs.Validationf("invalid port range %q: start > end", spec)
	return errdefs.Dependencyf("docker not found in PATH; install docker or set provider: container-b")

Wrapping with context:

	if err := registry.save(); err != nil {
		return errdefs.WrapFilesystem("write", registry.path, err)
	}

Command failures keep argv and the output tail so the CLI can show what the
underlying tool printed:

	return errdefs.NewCommandError(cmd.Args, exitCode, combined, err)

Branching:

	if errdefs.IsKind(err, errdefs.KindDependency) {
		// print install hint, skip retry
	}

HTTP mapping in the API layer:

	status := errdefs.HTTPStatus(err) // 400, 401, 404, or 500

Sentinels survive wrapping; errors.Is(err, errdefs.ErrNotFound) holds through
any number of Wrap or fmt.Errorf("%w") layers.
*/
package errdefs
