//go:build ignore

// build.go - Void license engine build system
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: all, license, license-issuer, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const module = "github.com/xroachx-ghost/void-sub000"

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	GOOS    string
	GOARCH  string
}

var (
	distDir = "dist"

	// Executable names (key = source dir name, value = output name)
	executables = map[string]string{
		"license":        "license",
		"license-issuer": "license-issuer",
	}

	// Release matrix for the license CLI. The issuer never ships.
	releasePlatforms = []string{"linux/amd64", "linux/arm64", "darwin/amd64", "darwin/arm64", "windows/amd64"}

	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	printHeader()
	startTime := time.Now()

	ctx := &BuildContext{
		Verbose: *verbose,
		GOOS:    runtime.GOOS,
		GOARCH:  runtime.GOARCH,
	}

	switch *target {
	case "all":
		buildAll(ctx)
	case "license", "license-issuer":
		buildExecutable(*target, ctx)
	case "test":
		runTests(ctx.Verbose)
	case "clean":
		clean()
	case "release":
		buildRelease(ctx)
	default:
		showHelp()
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "     Void License Engine - Build System    " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func buildAll(ctx *BuildContext) {
	printInfo("Building all components...")
	if err := os.MkdirAll(distDir, 0755); err != nil {
		printError(fmt.Sprintf("Failed to create %s: %v", distDir, err))
		os.Exit(1)
	}
	for name := range executables {
		buildExecutable(name, ctx)
	}
	printSuccess("All components built successfully!")
}

// buildExecutable compiles ./cmd/<name> into dist for ctx's platform
func buildExecutable(name string, ctx *BuildContext) {
	exeName := executables[name]
	if ctx.GOOS == "windows" {
		exeName += ".exe"
	}
	outputPath := filepath.Join(distDir, ctx.GOOS+"-"+ctx.GOARCH, exeName)

	printInfo(fmt.Sprintf("Building %s for %s/%s...", name, ctx.GOOS, ctx.GOARCH))

	ldflags := fmt.Sprintf("-s -w -X %s/internal/app.BuildTime=%s", module, time.Now().UTC().Format(time.RFC3339))
	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", outputPath, "./cmd/" + name}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "GOOS="+ctx.GOOS, "GOARCH="+ctx.GOARCH, "CGO_ENABLED=0")
	if ctx.Verbose {
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(outputPath); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", outputPath, float64(info.Size())/1024/1024))
	}
}

// buildRelease cross-compiles the license CLI for every release platform
func buildRelease(ctx *BuildContext) {
	printInfo("Building release binaries...")
	runTests(ctx.Verbose)
	for _, platform := range releasePlatforms {
		parts := strings.SplitN(platform, "/", 2)
		buildExecutable("license", &BuildContext{Verbose: ctx.Verbose, GOOS: parts[0], GOARCH: parts[1]})
	}
}

func runTests(verbose bool) {
	printInfo("Running tests...")
	args := []string{"test", "-race", "-short", "./..."}
	if verbose {
		args = append(args, "-v")
	}
	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError("Tests failed")
		os.Exit(1)
	}
	printSuccess("All tests passed")
}

func clean() {
	printInfo("Cleaning build artifacts...")
	if err := os.RemoveAll(distDir); err != nil {
		printError(fmt.Sprintf("Failed to clean %s: %v", distDir, err))
		os.Exit(1)
	}
	printSuccess("Build artifacts cleaned")
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all             Build license and license-issuer for this platform")
	fmt.Println("  license         Build the license CLI")
	fmt.Println("  license-issuer  Build the issuing tool")
	fmt.Println("  test            Run the test suite")
	fmt.Println("  clean           Remove dist/")
	fmt.Println("  release         Test, then cross-compile the license CLI")
}
