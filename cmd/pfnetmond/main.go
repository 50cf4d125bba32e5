package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/wesleywu/pfnetmon/internal/config"
	"github.com/wesleywu/pfnetmon/internal/daemon"
	"github.com/wesleywu/pfnetmon/internal/hostaddr"
	"github.com/wesleywu/pfnetmon/internal/logger"
	"github.com/wesleywu/pfnetmon/internal/netmon"
)

var (
	version = "1.0.0"

	silentMode  bool
	verboseMode bool
	configPath  string
	probeTarget string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pfnetmond",
		Short: "Kernel network interface daemon for BSD IPsec gateways",
		Long:  `pfnetmond watches the BSD routing socket for interface and address changes and answers route-lookup queries on behalf of an IPsec daemon.`,
		Run:   runDaemon,
	}

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run in the foreground",
		Long:  `Run pfnetmond in the foreground, watching the routing socket until a terminal signal arrives.`,
		Run:   runDaemon,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install as a system service",
		Long:  `Install pfnetmond as a system service (launchd on macOS). On Linux and Windows automatic installation is not supported and the command reports an error.`,
		Run:   installService,
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the system service",
		Run:   uninstallService,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Run:   showStatus,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run:   showVersion,
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Probe the kernel network interface core",
		Long:  `Open the routing socket, enumerate usable addresses, and resolve a source address for --target.`,
		Run:   testConfiguration,
	}
	testCmd.Flags().StringVar(&probeTarget, "target", "8.8.8.8", "destination to resolve a source address for")

	rootCmd.PersistentFlags().BoolVarP(&silentMode, "silent", "s", false, "Silent mode (errors only)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "Verbose mode (debug level logging)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file")

	rootCmd.AddCommand(daemonCmd, installCmd, uninstallCmd, statusCmd, versionCmd, testCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func logLevel() string {
	if verboseMode {
		return "debug"
	}
	if silentMode {
		return "error"
	}
	return "info"
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.LogLevel = logLevel()
	return cfg
}

func runDaemon(_ *cobra.Command, _ []string) {
	cfg := loadConfig()
	log := logger.New(cfg.LogLevel)

	sm, err := daemon.NewServiceManager(cfg, log)
	if err != nil {
		log.Error("failed to create service manager", "error", err)
		os.Exit(1)
	}

	if err := sm.Start(); err != nil {
		log.Error("failed to start service", "error", err)
		os.Exit(1)
	}

	if err := sm.Wait(); err != nil {
		log.Error("service error", "error", err)
		os.Exit(1)
	}
}

func installService(_ *cobra.Command, _ []string) {
	if os.Getuid() != 0 {
		fmt.Fprintf(os.Stderr, "Error: install command requires root privileges\n")
		fmt.Printf("Please run: sudo pfnetmond install\n")
		os.Exit(1)
	}

	currentExecPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	installDir := "/usr/local/bin"
	targetPath := filepath.Join(installDir, "pfnetmond")

	if err := os.MkdirAll(installDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create install directory: %v\n", err)
		os.Exit(1)
	}

	if currentExecPath != targetPath {
		fmt.Printf("Installing binary to %s\n", targetPath)
		if err := copyFile(currentExecPath, targetPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to copy binary: %v\n", err)
			os.Exit(1)
		}
		if err := os.Chmod(targetPath, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to set executable permissions: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Installing system service...\n")
	service := daemon.NewPlatformService(targetPath, configPath)
	if err := service.Install(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to install service: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Service installed successfully (%s)\n", runtime.GOOS)
}

func uninstallService(_ *cobra.Command, _ []string) {
	if os.Getuid() != 0 {
		fmt.Fprintf(os.Stderr, "Error: uninstall command requires root privileges\n")
		fmt.Printf("Please run: sudo pfnetmond uninstall\n")
		os.Exit(1)
	}

	fmt.Printf("Uninstalling system service...\n")
	service := daemon.NewPlatformService("", "")
	if err := service.Uninstall(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to uninstall service: %v\n", err)
	} else {
		fmt.Printf("System service uninstalled\n")
	}

	systemBinPath := "/usr/local/bin/pfnetmond"
	if _, err := os.Stat(systemBinPath); err == nil {
		fmt.Printf("Removing binary file: %s\n", systemBinPath)
		if err := os.Remove(systemBinPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove binary: %v\n", err)
		}
	}
}

func showStatus(_ *cobra.Command, _ []string) {
	service := daemon.NewPlatformService("", "")
	status, err := service.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get service status: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Service status: %s\n", status)
	fmt.Printf("Service installed: %t\n", service.IsInstalled())
}

func showVersion(_ *cobra.Command, _ []string) {
	fmt.Printf("pfnetmond v%s\n", version)
	fmt.Printf("Runtime: %s\n", runtime.Version())
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// testConfiguration opens a NetMonitor with its reader task running
// (the reader delivers the kernel's reply to the route-get query),
// confirms a synchronous query resolves, then tears it down with
// Destroy, which also stops the reader task.
func testConfiguration(_ *cobra.Command, _ []string) {
	log := logger.New(logLevel())

	dest := net.ParseIP(probeTarget)
	if dest == nil {
		fmt.Fprintf(os.Stderr, "invalid --target %q\n", probeTarget)
		os.Exit(1)
	}
	destAddr, err := hostaddr.FromNetIP(dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --target %q: %v\n", probeTarget, err)
		os.Exit(1)
	}

	monitor, err := netmon.NewNetMonitor(netmon.Options{Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open kernel network interface core: %v\n", err)
		os.Exit(1)
	}
	defer monitor.Destroy()

	fmt.Println("kernel network interface core opened")

	enum := monitor.CreateAddressEnumerator(netmon.MaskUp | netmon.MaskSkipUnusable)
	count := 0
	for enum.Next() {
		fmt.Printf("  %-16s %s\n", enum.Interface(), enum.Address())
		count++
	}
	enum.Close()
	fmt.Printf("usable addresses: %d\n", count)

	source, ok := monitor.GetSourceAddr(destAddr, nil)
	if !ok {
		fmt.Printf("no route to %s\n", probeTarget)
		os.Exit(1)
	}
	fmt.Printf("source address for %s: %s\n", probeTarget, source)

	if os.Getuid() != 0 {
		fmt.Println("note: root privileges required for add_route/add_ip operations")
	}
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
