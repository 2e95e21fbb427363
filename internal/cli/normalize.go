package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/normalize"
)

// NormalizeOptions holds flags for the normalize command.
type NormalizeOptions struct {
	*RootOptions
	Strict bool
}

// NormalizeResult is the canonical order plus the mapping defects found
// on the way.
type NormalizeResult struct {
	Order   model.Order `json:"order"`
	Defects []string    `json:"defects"`
}

func (r NormalizeResult) RenderText(w io.Writer) {
	o := r.Order
	fmt.Fprintf(w, "Order %s", o.ID)
	if o.OrderNumber != "" {
		fmt.Fprintf(w, " #%s", o.OrderNumber)
	}
	fmt.Fprintf(w, " [%s]\n", o.Status)
	fmt.Fprintf(w, "  total %s (subtotal %s, tax %s, tip %s)\n",
		o.TotalAmount.StringFixed(2), o.Subtotal.StringFixed(2), o.TaxAmount.StringFixed(2), o.TipAmount.StringFixed(2))
	for _, c := range o.Checks {
		fmt.Fprintf(w, "  check %s: %d items, %s, %s\n", c.ID, len(c.Selections), c.TotalAmount.StringFixed(2), c.PaymentStatus)
	}
	for _, c := range o.Courses {
		fmt.Fprintf(w, "  course %s %q: %s\n", c.ID, c.Name, c.FireStatus)
	}
	if len(r.Defects) == 0 {
		fmt.Fprintln(w, "No mapping defects.")
		return
	}
	fmt.Fprintf(w, "%d mapping defects:\n", len(r.Defects))
	for _, d := range r.Defects {
		fmt.Fprintf(w, "  - %s\n", d)
	}
}

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NormalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "normalize <file|->",
		Short: "Map a backend order payload to the canonical order",
		Long: `Read a backend order payload (JSON) and print the canonical order the
sync core would store, together with every mapping defect.

Exit codes:
  0 - Mapped (defects are reported but tolerated)
  1 - Mapped with defects and --strict was given
  2 - Unreadable input

Examples:
  ordersync normalize ./order.json
  curl -s .../orders/ord-1 | ordersync normalize - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when the payload has mapping defects")

	return cmd
}

func runNormalize(opts *NormalizeOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "cannot read payload", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return f.Fail(ExitCommandError, ErrCodePayload, "payload is not a JSON object", err)
	}

	order, defects := normalize.OrderWithDefects(raw)
	result := NormalizeResult{Order: order, Defects: make([]string, 0, len(defects))}
	for _, d := range defects {
		result.Defects = append(result.Defects, d.Error())
	}
	f.VerboseLog("normalized %s with %d defects", order.ID, len(defects))

	if err := f.Success(result); err != nil {
		return err
	}
	if opts.Strict && len(defects) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d mapping defects", len(defects)))
	}
	return nil
}
