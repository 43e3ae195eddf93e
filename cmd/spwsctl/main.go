// Command spwsctl is the profile-management CLI (C8): it keeps a small
// YAML store of named server profiles and launches/stops the
// secure-proxy-ws engine binary against whichever one is active, mirroring
// the teacher CLI's add/list/connect/disconnect/status/remove command set
// adapted to this system's single-tunnel-per-flow model — there is no
// "interface" to bring up, so connect/disconnect just manage the engine
// process.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"secure-proxy-ws/internal/profile"
)

var (
	storeDir   string
	enginePath string
	adminAddr  string
	store      *profile.Store
)

var rootCmd = &cobra.Command{
	Use:   "spwsctl",
	Short: "Manage secure-proxy-ws server profiles",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		store, err = profile.Load(storeDir)
		return err
	},
}

var addCmd = &cobra.Command{
	Use:   "add [name] [sni_host] [path] [pre_shared_key_hex]",
	Short: "Add a new server profile",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverPort, _ := cmd.Flags().GetUint16("server-port")
		socksPort, _ := cmd.Flags().GetUint16("socks-port")
		httpPort, _ := cmd.Flags().GetUint16("http-port")

		p, err := store.Add(profile.Profile{
			Name:         args[0],
			SNIHost:      args[1],
			Path:         args[2],
			PreSharedKey: args[3],
			ServerPort:   serverPort,
			SocksPort:    socksPort,
			HTTPPort:     httpPort,
		})
		if err != nil {
			return err
		}
		if err := store.Save(); err != nil {
			return err
		}
		fmt.Printf("added profile %q (%s)\n", p.Name, p.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List server profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(store.Profiles) == 0 {
			fmt.Println("no profiles configured")
			return nil
		}
		for i, p := range store.Profiles {
			active := " "
			if p.ID == store.ActiveID {
				active = "*"
			}
			fmt.Printf("%s[%d] %s - %s:%d (socks %d, http %d)\n",
				active, i+1, p.Name, p.SNIHost, p.ServerPort, p.SocksPort, p.HTTPPort)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [name-or-index]",
	Short: "Remove a server profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.Remove(args[0]); err != nil {
			return err
		}
		return store.Save()
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [name-or-index]",
	Short: "Start the proxy engine in the background with this profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := store.Find(args[0])
		if p == nil {
			return fmt.Errorf("profile not found: %s", args[0])
		}
		store.ActiveID = p.ID
		if err := store.Save(); err != nil {
			return err
		}

		rt := profile.NewRuntime(storeDir)
		path := resolveEnginePath()
		if err := rt.Connect(path, p, adminAddr); err != nil {
			return err
		}
		fmt.Printf("connected to %q\n", p.Name)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Stop the running proxy engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := profile.NewRuntime(storeDir)
		return rt.Disconnect()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the proxy engine is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := profile.NewRuntime(storeDir)
		running, pid := rt.Status()
		if !running {
			fmt.Println("disconnected")
			return nil
		}
		fmt.Printf("connected (engine pid %d)\n", pid)
		return nil
	},
}

// resolveEnginePath finds the secure-proxy-ws engine binary: next to this
// executable first, falling back to $PATH.
func resolveEnginePath() string {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "secure-proxy-ws")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if p, err := exec.LookPath("secure-proxy-ws"); err == nil {
		return p
	}
	return "secure-proxy-ws"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDir, "config", profile.DefaultDir(), "profile store directory")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "", "admin/observability address to pass to the engine")

	addCmd.Flags().Uint16("server-port", 443, "remote tunnel server port")
	addCmd.Flags().Uint16("socks-port", 1080, "local SOCKS5 listener port")
	addCmd.Flags().Uint16("http-port", 8080, "local HTTP CONNECT listener port")

	rootCmd.AddCommand(addCmd, listCmd, removeCmd, connectCmd, disconnectCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
