package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"optionclear/config"
)

type flagKind uint8

const (
	flagString flagKind = iota
	flagInt
	flagBool
	flagList
)

type flagSpec struct {
	name     string
	usage    string
	kind     flagKind
	required bool
}

// command maps CLI flags one-to-one onto the JSON parameter object of an
// RPC method.
type command struct {
	name     string
	method   string
	summary  string
	mutating bool
	// identity names the flag holding the acting address, which becomes
	// the subject of the caller token.
	identity string
	flags    []flagSpec
}

func required(name, usage string) flagSpec { return flagSpec{name: name, usage: usage, required: true} }

var commands = []command{
	{name: "create", identity: "caller", method: "clearing_createOptionType", summary: "Register an option type", mutating: true, flags: []flagSpec{
		required("caller", "creator address"),
		required("underlyingAsset", "underlying asset address"),
		required("underlyingAmount", "underlying per option unit"),
		required("exerciseAsset", "exercise asset address"),
		required("exerciseAmount", "exercise price per option unit"),
		{name: "exerciseTimestamp", usage: "earliest exercise time (unix seconds)", kind: flagInt, required: true},
		{name: "expiryTimestamp", usage: "expiry time (unix seconds)", kind: flagInt, required: true},
	}},
	{name: "write", identity: "caller", method: "clearing_write", summary: "Write options against collateral", mutating: true, flags: []flagSpec{
		required("caller", "writer address"),
		required("optionId", "option id or claim id to add to"),
		required("amount", "option units"),
	}},
	{name: "exercise", identity: "caller", method: "clearing_exercise", summary: "Exercise option units", mutating: true, flags: []flagSpec{
		required("caller", "holder address"),
		required("optionId", "option id"),
		required("amount", "option units"),
	}},
	{name: "redeem", identity: "caller", method: "clearing_redeem", summary: "Redeem a claim", mutating: true, flags: []flagSpec{
		required("caller", "claim owner"),
		required("claimId", "claim id"),
	}},
	{name: "sweep-fees", method: "clearing_sweepFees", summary: "Pay accrued fees to the recipient", mutating: true, flags: []flagSpec{
		{name: "assets", usage: "comma-separated asset addresses", kind: flagList, required: true},
	}},
	{name: "set-fee-to", identity: "caller", method: "clearing_setFeeTo", summary: "Change the fee recipient", mutating: true, flags: []flagSpec{
		required("caller", "current fee recipient"),
		required("recipient", "new fee recipient"),
	}},
	{name: "set-fees-enabled", identity: "caller", method: "clearing_setFeesEnabled", summary: "Flip the fee switch", mutating: true, flags: []flagSpec{
		required("caller", "current fee recipient"),
		{name: "enabled", usage: "enable fees", kind: flagBool},
	}},
	{name: "transfer", identity: "from", method: "clearing_transfer", summary: "Move option units or a claim", mutating: true, flags: []flagSpec{
		required("from", "sender"),
		required("to", "recipient"),
		required("id", "token id"),
		required("amount", "units (1 for claims)"),
	}},
	{name: "option", method: "clearing_optionType", summary: "Show an option type", flags: []flagSpec{required("id", "option id")}},
	{name: "claim", method: "clearing_claim", summary: "Show a claim", flags: []flagSpec{required("id", "claim id")}},
	{name: "position", method: "clearing_position", summary: "Show the asset exposure of a token", flags: []flagSpec{required("id", "token id")}},
	{name: "token-kind", method: "clearing_tokenKind", summary: "Classify a token id", flags: []flagSpec{required("id", "token id")}},
	{name: "balance", method: "clearing_balance", summary: "Show a position token balance", flags: []flagSpec{
		required("owner", "owner address"),
		required("id", "token id"),
	}},
	{name: "asset-balance", method: "clearing_assetBalance", summary: "Show an asset balance", flags: []flagSpec{
		required("asset", "asset address"),
		required("holder", "holder address"),
	}},
	{name: "fee-balance", method: "clearing_feeBalance", summary: "Show unswept fees", flags: []flagSpec{required("asset", "asset address")}},
	{name: "fee-policy", method: "clearing_feePolicy", summary: "Show the fee policy"},
	{name: "buckets", method: "clearing_buckets", summary: "List the buckets of an option type", flags: []flagSpec{required("id", "option id")}},
	{name: "claim-indices", method: "clearing_claimIndices", summary: "List the bucket shares of a claim", flags: []flagSpec{required("id", "claim id")}},
	{name: "events", method: "clearing_events", summary: "List journaled events", flags: []flagSpec{
		{name: "type", usage: "event type"},
		{name: "optionId", usage: "option id"},
		{name: "claimId", usage: "claim id"},
		{name: "after", usage: "only events after this sequence", kind: flagInt},
		{name: "limit", usage: "maximum events", kind: flagInt},
	}},
	{name: "vault", method: "clearing_vault", summary: "Show the custody vault address"},
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func usage() string {
	buf := &bytes.Buffer{}
	fmt.Fprintln(buf, "Usage: clearing-cli [--rpc URL] <command> [flags]")
	fmt.Fprintln(buf, "Commands:")
	sorted := append([]command(nil), commands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	for _, cmd := range sorted {
		fmt.Fprintf(buf, "  %-17s %s\n", cmd.name, cmd.summary)
	}
	return buf.String()
}

// params parses args into the RPC parameter object. Optional flags left
// unset are omitted.
func (c command) params(args []string, stderr io.Writer) (map[string]interface{}, error) {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	strs := make(map[string]*string)
	ints := make(map[string]*int64)
	bools := make(map[string]*bool)
	for _, fl := range c.flags {
		switch fl.kind {
		case flagInt:
			ints[fl.name] = fs.Int64(fl.name, 0, fl.usage)
		case flagBool:
			bools[fl.name] = fs.Bool(fl.name, false, fl.usage)
		default:
			strs[fl.name] = fs.String(fl.name, "", fl.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	out := make(map[string]interface{}, len(c.flags))
	for _, fl := range c.flags {
		if fl.required && !set[fl.name] {
			return nil, fmt.Errorf("--%s is required", fl.name)
		}
		if !set[fl.name] && fl.kind != flagBool {
			continue
		}
		switch fl.kind {
		case flagInt:
			out[fl.name] = *ints[fl.name]
		case flagBool:
			out[fl.name] = *bools[fl.name]
		case flagList:
			var items []string
			for _, item := range strings.Split(*strs[fl.name], ",") {
				if trimmed := strings.TrimSpace(item); trimmed != "" {
					items = append(items, trimmed)
				}
			}
			out[fl.name] = items
		default:
			out[fl.name] = strings.TrimSpace(*strs[fl.name])
		}
	}
	return out, nil
}

func (c command) run(args []string, stdout, stderr io.Writer) int {
	params, err := c.params(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := c.credential(params)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var param interface{}
	if len(c.flags) > 0 {
		param = params
	}
	result, err := callRPC(c.method, param, token)
	if err != nil {
		fmt.Fprintf(stderr, "RPC error: %v\n", err)
		return 1
	}
	printJSONResult(stdout, result)
	return 0
}

// credential picks the bearer for a mutating command: a freshly signed
// caller token when a signing secret is available, the operator token
// otherwise.
func (c command) credential(params map[string]interface{}) (string, error) {
	if !c.mutating {
		return "", nil
	}
	if c.identity != "" && strings.TrimSpace(jwtSecret) != "" {
		caller, _ := params[c.identity].(string)
		return mintCallerToken(caller, time.Now())
	}
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("this command requires %s or %s to be set", config.JWTSecretEnv, config.RPCTokenEnv)
}
