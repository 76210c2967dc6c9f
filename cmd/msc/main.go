package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/miniscript"
	"github.com/btcsuite/miniscript/policy"
)

// printNode prints the text form, type, script and witness bounds of a
// miniscript.
func printNode(node *miniscript.AST) error {
	script, err := node.Script()
	if err != nil {
		return err
	}

	fmt.Printf("miniscript: %v\n", node)
	fmt.Printf("type:       %v\n", node.Type())
	fmt.Printf("script:     %x\n", script)
	fmt.Printf("asm:        %v\n", node.ScriptString())
	fmt.Printf("size:       %d\n", len(script))
	if size, ok := node.MaxSatisfactionSize(); ok {
		elems, _ := node.MaxSatisfactionElements()
		fmt.Printf("max witness: %d elements, %d bytes\n", elems, size)
	} else {
		fmt.Println("max witness: unsatisfiable")
	}
	if err := node.IsSane(); err != nil {
		fmt.Printf("sane:       no (%v)\n", err)
	} else {
		fmt.Println("sane:       yes")
	}
	if cfg.Tree {
		fmt.Print(node.DrawTree())
	}
	return nil
}

func compileCmd(arg string) error {
	p, err := policy.Parse(arg, cfg.ctx)
	if err != nil {
		return err
	}
	node, err := policy.CompileWithConfig(p, cfg.ctx,
		policy.CompilerConfig{MaxMemoEntries: cfg.MaxMemo})
	if err != nil {
		return err
	}
	return printNode(node)
}

func parseCmd(arg string) error {
	node, err := miniscript.Parse(arg, cfg.ctx)
	if err != nil {
		return err
	}
	return printNode(node)
}

func decodeCmd(arg string) error {
	script, err := hex.DecodeString(arg)
	if err != nil {
		return fmt.Errorf("script is not hex encoded: %v", err)
	}
	node, err := miniscript.ParseScript(script, cfg.ctx, nil)
	if err != nil {
		return err
	}
	return printNode(node)
}

func liftCmd(arg string) error {
	node, err := miniscript.Parse(arg, cfg.ctx)
	if err != nil {
		return err
	}
	p, err := policy.Lift(node)
	if err != nil {
		return err
	}
	fmt.Printf("policy:     %v\n", p)
	fmt.Printf("normalized: %v\n", p.Normalized())
	return nil
}

var commands = map[string]func(arg string) error{
	"compile": compileCmd,
	"parse":   parseCmd,
	"decode":  decodeCmd,
	"lift":    liftCmd,
}

var cfg *config

// realMain is the real main function for the utility.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func realMain() error {
	// Load configuration and parse command line.
	tcfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	cmd, ok := commands[args[0]]
	if !ok {
		err := fmt.Errorf("unknown command %q", args[0])
		log.Error(err)
		return err
	}

	log.Debugf("Running %s in %v context", args[0], cfg.ctx)
	if err := cmd(args[1]); err != nil {
		log.Errorf("%s failed: %v", args[0], err)
		return err
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
