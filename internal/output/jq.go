package output

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// ValidateJQ reports a parse or compile error in a jq expression early, before
// any request is made.
func ValidateJQ(expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return ErrUsageHint(fmt.Sprintf("invalid --jq expression: %v", err), "See https://jqlang.org/manual/")
	}
	if _, err := gojq.Compile(query); err != nil {
		return ErrUsage(fmt.Sprintf("invalid --jq expression: %v", err))
	}
	return nil
}

// writeJQ runs the jq filter over the JSON form of v. String results are
// printed raw, everything else as compact JSON, one result per line.
func (w *Writer) writeJQ(v any) error {
	query, err := gojq.Parse(w.opts.JQ)
	if err != nil {
		return ErrUsage(fmt.Sprintf("invalid --jq expression: %v", err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return ErrUsage(fmt.Sprintf("invalid --jq expression: %v", err))
	}

	iter := code.Run(toGeneric(v))
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return ErrUsage(fmt.Sprintf("jq: %v", err))
		}
		if s, isString := result.(string); isString {
			if _, err := fmt.Fprintln(w.opts.Writer, s); err != nil {
				return err
			}
			continue
		}
		b, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w.opts.Writer, string(b)); err != nil {
			return err
		}
	}
}
