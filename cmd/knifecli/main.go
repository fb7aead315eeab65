// Command knifecli creates a knife file for your own character without
// running the web service: it cycles you through EVE SSO in a browser,
// harvests everything the token can reach and writes the result to a
// <character_id>.knife file.
//
// If you are using this to share with a recruiter, know that these files
// cannot be trusted after they are created. For third-party trust you
// need the hosted version.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"

	"esi-knife/internal/knife/models"
	"esi-knife/internal/knife/services"
	"esi-knife/pkg/config"
	"esi-knife/pkg/evegateway"

	"github.com/google/uuid"
)

const (
	defaultClientID = "13927a4b444a46a3ad9a2bd99059181e"
	defaultPort     = 27392
)

func main() {
	openFile := flag.String("open", "", "open and display a previously created knife file")
	clientID := flag.String("client-id", defaultClientID, "SSO client ID, if override is required")
	port := flag.Int("port", defaultPort, "callback port, if override is required")
	flag.Parse()

	if *openFile != "" {
		if err := display(*openFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(*clientID, *port); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(clientID string, port int) error {
	ctx := context.Background()

	token, err := getAccessToken(clientID, port)
	if err != nil {
		return err
	}

	client := evegateway.NewClient()

	char, failure := services.Verify(ctx, client, token)
	if failure != nil {
		return fmt.Errorf("could not verify access token: %v", failure)
	}

	public, failure := services.FetchPublicInfo(ctx, client, char.ID)
	if failure != nil {
		return fmt.Errorf("failed to look up public info for %d: %v", char.ID, failure)
	}

	roles, failure := services.FetchRoles(ctx, client, token, char.ID)
	if failure != nil {
		return fmt.Errorf("could not determine corporation roles: %v", failure)
	}

	fmt.Printf("harvesting data for %s, this can take a while\n", char.Name)

	// no state store here; the spec cache keeps an in-process copy
	specs := evegateway.NewSpecCache(client, nil)
	results := services.ExecuteRun(ctx, client, specs, token, char, roles, public)

	return write(results, char.ID)
}

// getAccessToken walks the SSO implicit flow on a loopback server: the
// browser lands with the token in the URL fragment, a script bounces it
// into the query string, and the second request carries the token.
func getAccessToken(clientID string, port int) (string, error) {
	state := uuid.New().String()

	authorize := "https://login.eveonline.com/oauth/authorize?" + url.Values{
		"response_type": {"token"},
		"redirect_uri":  {fmt.Sprintf("http://localhost:%d/", port)},
		"client_id":     {clientID},
		"scope":         {config.ScopeString()},
		"state":         {state},
	}.Encode()

	if err := openBrowser(authorize); err != nil {
		fmt.Printf("open this URL in a browser:\n\n%s\n\n", authorize)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return "", fmt.Errorf("failed to open callback port %d: %w", port, err)
	}
	defer listener.Close()

	tokens := make(chan string, 1)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if token := r.URL.Query().Get("access_token"); token != "" {
			fmt.Fprint(w, "<html><body><h1>Token received</h1><h2>(you can close this)</h2></body></html>")
			tokens <- token
			return
		}
		fmt.Fprint(w, "<html><body><script>window.location = '/?' + window.location.hash.substr(1);</script></body></html>")
	})}

	go server.Serve(listener)
	defer server.Close()

	token := <-tokens
	if token == "" {
		return "", fmt.Errorf("failed to acquire auth token")
	}
	return token, nil
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}

// write stores the document as <character_id>.knife, suffixing -N rather
// than overwriting earlier runs.
func write(results models.ResultMap, characterID int64) error {
	doc, err := services.EncodeDocument(results)
	if err != nil {
		return err
	}

	fname := fmt.Sprintf("%d.knife", characterID)
	for i := 1; ; i++ {
		if _, err := os.Stat(fname); os.IsNotExist(err) {
			break
		}
		fname = fmt.Sprintf("%d-%d.knife", characterID, i)
	}

	if err := os.WriteFile(fname, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", fname, err)
	}
	fmt.Printf("created %s\n", fname)
	return nil
}

// display decodes and pretty-prints an existing knife file.
func display(filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	results, err := services.DecodeDocument(string(raw))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	pretty, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
