package main

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/ordergate/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
