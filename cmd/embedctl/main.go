package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nidhogg/embedgate/internal/vector"
)

const usage = `usage: embedctl [-server URL] <command> [args]

commands:
  health                          show gateway health
  spaces                          list embedding spaces
  text [-space S] [-query] TEXT   embed text
  image [-space S] REFERENCE      embed an uploaded image
  compare [-space S] A B          cosine similarity of two texts
  repl [-space S]                 compare each line with the previous one
`

func main() {
	server := flag.String("server", envOr("EMBEDGATE_URL", "http://localhost:5050"), "embedgate server URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	c := &client{server: strings.TrimRight(*server, "/"), http: &http.Client{Timeout: 65 * time.Second}}

	args := flag.Args()[1:]
	var err error
	switch flag.Arg(0) {
	case "health":
		err = c.printJSON("/health")
	case "spaces":
		err = c.printJSON("/spaces")
	case "text":
		err = runText(c, args)
	case "image":
		err = runImage(c, args)
	case "compare":
		err = runCompare(c, args)
	case "repl":
		err = runRepl(c, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func runText(c *client, args []string) error {
	fs := flag.NewFlagSet("text", flag.ExitOnError)
	space := fs.String("space", "", `space id, or "all"`)
	query := fs.Bool("query", false, "mark the text as a short search query")
	fs.Parse(args)

	body, err := c.post("/embed/text", map[string]interface{}{
		"text":  strings.Join(fs.Args(), " "),
		"space": *space,
		"hint":  map[string]bool{"query": *query},
	})
	if err != nil {
		return err
	}
	return printSummary(body)
}

func runImage(c *client, args []string) error {
	fs := flag.NewFlagSet("image", flag.ExitOnError)
	space := fs.String("space", "", `space id, or "all"`)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("image needs exactly one reference")
	}

	body, err := c.post("/embed/image", map[string]interface{}{
		"reference": fs.Arg(0),
		"space":     *space,
	})
	if err != nil {
		return err
	}
	return printSummary(body)
}

func runCompare(c *client, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	space := fs.String("space", "", "space id")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("compare needs exactly two texts")
	}

	a, err := c.embed(*space, fs.Arg(0))
	if err != nil {
		return err
	}
	b, err := c.embed(*space, fs.Arg(1))
	if err != nil {
		return err
	}
	sim, err := vector.Cosine(a, b)
	if err != nil {
		return err
	}
	fmt.Printf("%.4f\n", sim)
	return nil
}

func runRepl(c *client, args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	space := fs.String("space", "", "space id")
	fs.Parse(args)

	fmt.Println("embedgate similarity shell")
	fmt.Println("Type 'exit' or 'quit' to leave. Each line is compared with the previous one.")
	fmt.Println("---")

	var prev []float32
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return nil
		}

		vec, err := c.embed(*space, input)
		if err != nil {
			printError("%v", err)
			continue
		}
		if prev != nil {
			sim, err := vector.Cosine(prev, vec)
			if err != nil {
				printError("%v", err)
			} else {
				fmt.Printf("\033[36msimilarity to previous:\033[0m %.4f\n", sim)
			}
		}
		fmt.Printf("%d dimensions\n", len(vec))
		prev = vec
	}
}

type client struct {
	server string
	http   *http.Client
}

func (c *client) embed(space, text string) ([]float32, error) {
	if space == "all" {
		return nil, fmt.Errorf("comparisons need a single space")
	}
	body, err := c.post("/embed/text", map[string]string{"text": text, "space": space})
	if err != nil {
		return nil, err
	}
	var res struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return res.Vector, nil
}

func (c *client) post(path string, payload interface{}) ([]byte, error) {
	data, _ := json.Marshal(payload)
	resp, err := c.http.Post(c.server+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return readBody(resp)
}

func (c *client) printJSON(path string) error {
	resp, err := c.http.Get(c.server + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Println(out.String())
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(body, &e) == nil && e.Kind != "" {
			return nil, fmt.Errorf("server error (%d, %s): %s", resp.StatusCode, e.Kind, e.Error)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// printSummary prints the space and first components of every vector.
func printSummary(body []byte) error {
	var res struct {
		Space      string    `json:"space"`
		Vector     []float32 `json:"vector"`
		Dimensions int       `json:"dimensions"`
		Spaces     map[string]struct {
			Vector     []float32 `json:"vector"`
			Dimensions int       `json:"dimensions"`
		} `json:"spaces"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if res.Spaces == nil {
		fmt.Printf("\033[36m[%s]\033[0m %d dims %s\n", res.Space, res.Dimensions, head(res.Vector))
		return nil
	}
	for id, s := range res.Spaces {
		fmt.Printf("\033[36m[%s]\033[0m %d dims %s\n", id, s.Dimensions, head(s.Vector))
	}
	return nil
}

func head(v []float32) string {
	n := min(len(v), 4)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%.4f", v[i])
	}
	if len(v) > n {
		parts = append(parts, "...")
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
