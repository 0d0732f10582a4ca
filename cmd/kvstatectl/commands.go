package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/kvstate"
	"github.com/unkn0wn-root/kvstate/client"
	"github.com/unkn0wn-root/kvstate/config"
	"github.com/unkn0wn-root/kvstate/fetch"
)

// Global is shared by every command.
type Global struct {
	Ctx     context.Context
	Config  *config.Config
	Logger  kvstate.Logger
	Storage *kvstate.Storage
	Out     io.Writer
	ErrOut  io.Writer

	closers []func()
	once    sync.Once
}

// Close releases the store and flushes the logger. Safe to call twice.
func (g *Global) Close() {
	g.once.Do(func() {
		for _, c := range g.closers {
			c()
		}
	})
}

type CLI struct {
	Env     []string `short:"e" help:"Dotenv files to load before the environment" default:".env"`
	Store   string   `help:"Override STORE (none, memory, cookie, redis, bigcache, ristretto, sqlite); sqlite when unset"`
	Verbose bool     `short:"v" help:"Enable debug logging"`

	Get              GetCmd              `cmd:"" help:"Print the value stored under a key"`
	Set              SetCmd              `cmd:"" help:"Store a value under a key"`
	Rm               RmCmd               `cmd:"" help:"Remove a key"`
	State            StateCmd            `cmd:"" help:"Read and update a key as a persisted record"`
	ClearCredentials ClearCredentialsCmd `cmd:"" name:"clear-credentials" help:"Remove the access and refresh token slots"`
	Fetch            FetchCmd            `cmd:"" help:"GET/POST an absolute URL with a timeout and print the JSON body"`
	Request          RequestCmd          `cmd:"" help:"Send a request to ROOT_URL through the default interceptor chain"`
}

type GetCmd struct {
	Key string `arg:"" help:"Storage key"`
	Raw bool   `help:"Print the stored bytes as-is instead of decoding JSON"`
}

func (c *GetCmd) Run(g *Global) error {
	if c.Raw {
		v, ok := g.Storage.GetString(g.Ctx, c.Key)
		if !ok {
			return fmt.Errorf("%s: not found", c.Key)
		}
		_, err := fmt.Fprintln(g.Out, v)
		return err
	}
	v, ok := kvstate.Read[any](g.Ctx, g.Storage, c.Key)
	if !ok {
		return fmt.Errorf("%s: not found", c.Key)
	}
	return printJSON(g.Out, v)
}

type SetCmd struct {
	Key   string        `arg:"" help:"Storage key"`
	Value string        `arg:"" help:"JSON value (or any string with --raw)"`
	Raw   bool          `help:"Store the value as-is instead of requiring JSON"`
	TTL   time.Duration `name:"ttl" help:"Expiry; 0 uses COOKIE_DAYS"`
}

func (c *SetCmd) Run(g *Global) error {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = g.Config.CookieTTL()
	}
	if c.Raw {
		g.Storage.SetString(g.Ctx, c.Key, c.Value, ttl)
		return nil
	}
	if !json.Valid([]byte(c.Value)) {
		return fmt.Errorf("value is not valid JSON (use --raw to store plain text)")
	}
	raw := json.RawMessage(c.Value)
	return kvstate.WriteWith(g.Ctx, g.Storage, c.Key, raw, rawJSON{}, ttl)
}

// rawJSON stores already-validated JSON bytes without re-encoding.
type rawJSON struct{}

func (rawJSON) Encode(v json.RawMessage) ([]byte, error) { return v, nil }
func (rawJSON) Decode(b []byte) (json.RawMessage, error) { return json.RawMessage(b), nil }

type RmCmd struct {
	Key string `arg:"" help:"Storage key"`
}

func (c *RmCmd) Run(g *Global) error {
	g.Storage.Remove(g.Ctx, c.Key)
	return nil
}

type StateCmd struct {
	Show     StateShowCmd     `cmd:"" help:"Print the restored record and whether it can be reset"`
	SetField StateSetFieldCmd `cmd:"" name:"set-field" help:"Update one field, keeping the others"`
	Merge    StateMergeCmd    `cmd:"" help:"Merge a JSON object into the record"`
	Reset    StateResetCmd    `cmd:"" help:"Reset the record (RESET_POLICY decides remove or rewrite)"`
}

// openState restores key as a record with the configured reset policy and
// cookie lifetime.
func openState(g *Global, key string) (*kvstate.State[map[string]any], error) {
	return kvstate.New(g.Ctx, kvstate.Options[map[string]any]{
		Key:     key,
		Storage: g.Storage,
		Initial: map[string]any{},
		Reset:   g.Config.Reset(),
		TTL:     g.Config.CookieTTL(),
	})
}

type StateShowCmd struct {
	Key string `arg:"" help:"Storage key"`
}

func (c *StateShowCmd) Run(g *Global) error {
	st, err := openState(g, c.Key)
	if err != nil {
		return err
	}
	return printJSON(g.Out, map[string]any{"value": st.Get(), "canReset": st.CanReset()})
}

type StateSetFieldCmd struct {
	Key   string `arg:"" help:"Storage key"`
	Field string `arg:"" help:"Field name"`
	Value string `arg:"" help:"JSON value; anything else is stored as a string"`
}

func (c *StateSetFieldCmd) Run(g *Global) error {
	st, err := openState(g, c.Key)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(c.Value), &v); err != nil {
		v = c.Value
	}
	if err := st.SetField(g.Ctx, c.Field, v); err != nil {
		return err
	}
	return printJSON(g.Out, st.Get())
}

type StateMergeCmd struct {
	Key   string `arg:"" help:"Storage key"`
	Patch string `arg:"" help:"JSON object"`
}

func (c *StateMergeCmd) Run(g *Global) error {
	var p kvstate.Patch
	if err := json.Unmarshal([]byte(c.Patch), &p); err != nil {
		return fmt.Errorf("patch must be a JSON object: %w", err)
	}
	st, err := openState(g, c.Key)
	if err != nil {
		return err
	}
	if err := st.Merge(g.Ctx, p); err != nil {
		return err
	}
	return printJSON(g.Out, st.Get())
}

type StateResetCmd struct {
	Key string `arg:"" help:"Storage key"`
}

func (c *StateResetCmd) Run(g *Global) error {
	st, err := openState(g, c.Key)
	if err != nil {
		return err
	}
	if !st.CanReset() {
		_, err := fmt.Fprintln(g.ErrOut, "already at defaults")
		return err
	}
	st.ResetState(g.Ctx)
	return nil
}

type ClearCredentialsCmd struct{}

func (c *ClearCredentialsCmd) Run(g *Global) error {
	g.Storage.ClearCredentials(g.Ctx)
	return nil
}

type FetchCmd struct {
	URL     string        `arg:"" help:"Absolute URL"`
	Method  string        `short:"X" default:"GET" help:"HTTP method"`
	Data    string        `short:"d" help:"Request body (JSON)"`
	Timeout time.Duration `short:"t" help:"Timeout; defaults to FETCH_TIMEOUT"`
}

func (c *FetchCmd) Run(g *Global) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = g.Config.FetchTimeout
	}
	req := fetch.Request{Method: strings.ToUpper(c.Method)}
	if c.Data != "" {
		req.Body = []byte(c.Data)
		req.Header = http.Header{"Content-Type": []string{"application/json"}}
	}
	v, err := fetch.WithTimeout[any](g.Ctx, c.URL, req, timeout)
	if err != nil {
		return err
	}
	return printJSON(g.Out, v)
}

type RequestCmd struct {
	Path   string `arg:"" help:"Path relative to ROOT_URL (or an absolute URL)"`
	Method string `short:"X" default:"GET" help:"HTTP method"`
	Data   string `short:"d" help:"Request body (JSON)"`
}

func (c *RequestCmd) Run(g *Global) error {
	cl, unauthorized, err := client.NewDefault(g.Config.Client(g.Logger, nil), g.Storage, func(path string) {
		fmt.Fprintf(g.ErrOut, "unauthorized: credentials cleared, redirect to %s\n", path)
	})
	if err != nil {
		return err
	}

	req := &client.Request{Method: c.Method, URL: c.Path}
	if c.Data != "" {
		req.Body = json.RawMessage(c.Data)
	}
	resp, err := cl.Do(g.Ctx, req)
	if err != nil {
		// let a pending 401 clear-and-redirect finish before exiting
		unauthorized.Wait()
		return err
	}

	var v any
	if len(resp.Body) == 0 {
		return nil
	}
	if err := resp.Decode(&v); err != nil {
		_, werr := g.Out.Write(resp.Body)
		return werr
	}
	return printJSON(g.Out, v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
