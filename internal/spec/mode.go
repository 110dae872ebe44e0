package spec

import (
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Extension keys consulted for the interface mode, in precedence order.
var operationModeKeys = []string{"x-interface-mode", "x_interface_mode", "x-interface-type", "x-interface", "x-mode"}

const globalModeKey = "x-interface-mode"

// foldCase builds a fresh Caser per call; Casers are not safe for concurrent use.
func foldCase(s string) string { return cases.Fold().String(s) }

var modeAliases = map[string]InterfaceMode{
	"sync":         Synchronous,
	"synchronous":  Synchronous,
	"синхронный":   Synchronous,
	"async":        Asynchronous,
	"asynchronous": Asynchronous,
	"асинхронный":  Asynchronous,
}

var asyncKeywords = []string{"async", "асинхрон"}

// parseMode maps an extension value onto a mode, case-insensitively.
func parseMode(v string) (InterfaceMode, bool) {
	m, ok := modeAliases[foldCase(strings.TrimSpace(v))]
	return m, ok
}

// inferInterfaceMode applies, in order: the operation's extension flag, the
// document-level flag, a keyword scan of the operation text, and finally the
// synchronous default. Unrecognized flag values are skipped.
func inferInterfaceMode(op *yaml.Node, global *InterfaceMode) InterfaceMode {
	for _, key := range operationModeKeys {
		if m, ok := parseMode(scalar(mapGet(op, key))); ok {
			return m
		}
	}
	if global != nil {
		return *global
	}
	text := foldCase(str(op, "summary") + " " + str(op, "description") + " " + str(op, "operationId"))
	for _, kw := range asyncKeywords {
		if strings.Contains(text, kw) {
			return Asynchronous
		}
	}
	return Synchronous
}

// globalInterfaceMode reads the document-level flag from the root, then from info.
func globalInterfaceMode(root *yaml.Node) *InterfaceMode {
	for _, n := range []*yaml.Node{root, mapGet(root, "info")} {
		if m, ok := parseMode(scalar(mapGet(n, globalModeKey))); ok {
			return &m
		}
	}
	return nil
}
