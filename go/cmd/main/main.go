package main

import (
	"github.com/lunixbochs/domaincorn/go/cmd"

	_ "github.com/lunixbochs/domaincorn/go/cmd/info"
	_ "github.com/lunixbochs/domaincorn/go/cmd/invoke"
	_ "github.com/lunixbochs/domaincorn/go/cmd/run"
	_ "github.com/lunixbochs/domaincorn/go/cmd/shell"
	_ "github.com/lunixbochs/domaincorn/go/cmd/stress"
)

func main() { cmd.Main() }
