package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/jit"
	"github.com/daimatz/gotramp/pkg/native"
	"github.com/daimatz/gotramp/pkg/request"
	"github.com/daimatz/gotramp/pkg/signature"
	"github.com/daimatz/gotramp/pkg/trampoline"
	"github.com/daimatz/gotramp/pkg/vm"
)

func main() {
	var (
		reqFile   = flag.String("request", "", "Path to the request YAML file")
		classPath = flag.String("cp", "", "Directory to load host classes from (optional)")
		verbose   = flag.Bool("v", false, "Log build stages")
	)
	flag.Parse()

	if *reqFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: gotramp -request <file.yaml> [-cp dir] [-v]")
		os.Exit(1)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	vm.SetLogger(logger.Named("vm"))
	native.SetLogger(logger.Named("native"))
	trampoline.SetLogger(logger.Named("trampoline"))

	if err := run(*reqFile, *classPath, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(reqFile, classPath string, logger *zap.Logger) error {
	req, err := request.LoadRequest(reqFile)
	if err != nil {
		return err
	}
	sig, err := req.Signature()
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	conv, err := req.CallingConvention()
	if err != nil {
		return err
	}
	args, err := req.Arguments(sig)
	if err != nil {
		return err
	}

	code, err := req.Code.Bytes()
	if err != nil {
		return fmt.Errorf("code: %w", err)
	}
	region, err := jit.Map(code)
	if err != nil {
		return err
	}
	defer func() { _ = region.Release() }()

	var cl vm.ClassLoader
	if classPath != "" {
		cl = vm.NewUserClassLoader(classPath, nil)
	}
	b := trampoline.NewBuilder(vm.NewVM(cl),
		trampoline.WithConvention(conv),
		trampoline.WithHost(req.Host),
		trampoline.WithLogger(logger.Named("build")))

	h, err := b.Build(sig, region.Address())
	if err != nil {
		return err
	}
	result, err := h.Invoke(args...)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", h, err)
	}

	fmt.Printf("Trampoline: %s\n", h)
	fmt.Printf("Unit: %s\n", h.UnitName())
	if sig.ReturnType() == signature.Void {
		fmt.Println("Result: void")
	} else {
		fmt.Printf("Result: %v\n", result)
	}

	if req.Expect != nil {
		want, err := req.Expect.Value(sig.ReturnType())
		if err != nil {
			return fmt.Errorf("expect: %w", err)
		}
		if want != result {
			return fmt.Errorf("result %v, expected %v", result, want)
		}
	}
	return nil
}
