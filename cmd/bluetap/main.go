// cmd/bluetap/main.go
//
// bluetap is the command-line client for a Bluetap deployment. It logs in
// with a one-time access code, persists the session token under ~/.bluetap,
// and uploads/downloads files against the gateway and storage nodes.
//
// Usage:
//
//	bluetap login --user <name> [--contact <email-or-phone>]
//	bluetap upload <path> [--chunk-size 1048576] [--replication 2]
//	bluetap download <filename> [--out <path>]
//	bluetap ls
//	bluetap session
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/bluetap-cloud/bluetap/internal/client"
)

const (
	defaultChunkSize   = 1 << 20 // 1 MB
	defaultReplication = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "login":
		cmdLogin(os.Args[2:])
	case "upload":
		cmdUpload(os.Args[2:])
	case "download":
		cmdDownload(os.Args[2:])
	case "ls":
		cmdList(os.Args[2:])
	case "session":
		cmdSession(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: bluetap <command> [flags]

Commands:
  login     Request an access code and open a session
  upload    Chunk a file and store it on the assigned nodes
  download  Restore a stored file
  ls        List your stored files
  session   Show the current session state

Set BLUETAP_GATEWAY or pass --gateway to point at a gateway.
`)
}

func gatewayURL(fs *flag.FlagSet) *string {
	def := os.Getenv("BLUETAP_GATEWAY")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs.String("gateway", def, "gateway base URL")
}

func bluetapDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	return filepath.Join(home, ".bluetap")
}

func tokenPath() string {
	return filepath.Join(bluetapDir(), "session.token")
}

func saveToken(token string) {
	if err := os.MkdirAll(bluetapDir(), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating config directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(tokenPath(), []byte(token), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error: saving session token: %v\n", err)
		os.Exit(1)
	}
}

func loadToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// authedClient builds a client carrying the persisted session token.
func authedClient(gateway string) *client.Client {
	token := loadToken()
	if token == "" {
		fmt.Fprintln(os.Stderr, "Error: not logged in (run 'bluetap login')")
		os.Exit(1)
	}
	c := client.New(gateway)
	c.Token = token
	return c
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	gateway := gatewayURL(fs)
	user := fs.String("user", "", "username")
	contact := fs.String("contact", "", "email or phone for first-time registration")
	fs.Parse(args)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "Error: --user is required")
		os.Exit(1)
	}

	c := client.New(*gateway)
	sentTo, err := c.RequestAccessCode(*user, *contact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: requesting access code: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Access code sent to %s\n", sentTo)

	fmt.Print("Enter code: ")
	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading code: %v\n", err)
		os.Exit(1)
	}

	token, err := c.VerifyAccessCode(*user, strings.TrimSpace(code))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: verifying code: %v\n", err)
		os.Exit(1)
	}
	saveToken(token)
	fmt.Printf("Logged in as %s\n", *user)
}

func cmdUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	gateway := gatewayURL(fs)
	chunkSize := fs.Int64("chunk-size", defaultChunkSize, "chunk size in bytes")
	replication := fs.Int("replication", defaultReplication, "desired replica count")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bluetap upload <path> [flags]")
		os.Exit(1)
	}
	path := fs.Arg(0)

	c := authedClient(*gateway)
	report, err := c.Upload(path, *chunkSize, *replication, func(nodeID string, sent, total int) {
		fmt.Printf("\r%s: %d/%d chunks", nodeID, sent, total)
	})
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: upload failed: %v\n", err)
		os.Exit(1)
	}

	ok := report.Succeeded()
	fmt.Printf("Stored %s (%d chunks) on %d/%d nodes: %s\n",
		filepath.Base(path), report.TotalChunks, len(ok), len(report.Results), strings.Join(ok, ", "))
	for _, r := range report.Results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "Warning: replica %s failed: %v\n", r.NodeID, r.Err)
		}
	}
}

func cmdDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	gateway := gatewayURL(fs)
	out := fs.String("out", "", "output path (defaults to the filename)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: bluetap download <filename> [flags]")
		os.Exit(1)
	}
	filename := fs.Arg(0)
	outPath := *out
	if outPath == "" {
		outPath = filename
	}

	c := authedClient(*gateway)
	if err := c.Download(filename, outPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: download failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Restored %s to %s\n", filename, outPath)
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	gateway := gatewayURL(fs)
	fs.Parse(args)

	c := authedClient(*gateway)
	files, err := c.ListFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("No files stored.")
		return
	}
	for _, f := range files {
		fmt.Printf("%-40s %12d  %s\n", f.Filename, f.Filesize,
			time.Unix(f.CreatedAt, 0).Format("2006-01-02 15:04"))
	}
}

func cmdSession(args []string) {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	gateway := gatewayURL(fs)
	fs.Parse(args)

	token := loadToken()
	if token == "" {
		fmt.Println("Status: logged out")
		return
	}
	c := client.New(*gateway)
	c.Token = token

	username, valid, err := c.ValidateSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: checking session: %v\n", err)
		os.Exit(1)
	}
	if !valid {
		fmt.Println("Status: session expired (run 'bluetap login')")
		return
	}
	fmt.Printf("Status: logged in as %s\n", username)
}
