// Package main serves the mecanum base as a viam modular resource.
package main

import (
	"context"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"

	"github.com/lentin/neo-common/mecanumbase"
)

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("neoMecanumModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	neoModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := neoModule.AddModelFromRegistry(ctx, base.API, mecanumbase.Model); err != nil {
		return err
	}

	err = neoModule.Start(ctx)
	defer neoModule.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
