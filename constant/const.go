package constant

import (
	_ "embed"
	"fmt"
	"time"
)

var (
	//go:embed version
	Version     string
	compileTime string = "2025-08-25T00:00:00Z"
	CompileTime time.Time
)

func init() {
	t, err := time.Parse(time.RFC3339, compileTime)
	if nil != err {
		panic(fmt.Errorf("could not parse CompileTime constant %q. Make sure you it is set at build time", compileTime))
	}
	CompileTime = t
}
