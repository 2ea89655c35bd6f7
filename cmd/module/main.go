// Package main is the viam module serving the Modal mecanum base.
package main

import (
	"context"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"

	"github.com/intermode/modal-mecanum/mecanumbase"
)

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("intermodeMecanumModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	modalModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := modalModule.AddModelFromRegistry(ctx, base.API, mecanumbase.Model); err != nil {
		return err
	}

	err = modalModule.Start(ctx)
	defer modalModule.Close(ctx)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
