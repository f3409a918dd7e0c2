package services_test

import (
	"github.com/devyard/vm/pkg/provider/docker"
	"github.com/devyard/vm/pkg/services"
)

var _ docker.ServiceRegistrar = (*services.Manager)(nil)
