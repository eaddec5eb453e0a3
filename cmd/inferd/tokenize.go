package main

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"inferd/pkg/types"
)

func newTokenizeCmd(root *rootOptions) *cobra.Command {
	var (
		o            oneShotOptions
		text         string
		addSpecial   bool
		parseSpecial bool
	)
	cmd := &cobra.Command{
		Use:   "tokenize",
		Short: "Print the token ids of a text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, id, _, err := o.open(cmd, root)
			if err != nil {
				return err
			}
			defer mgr.Close()
			resp, err := mgr.Tokenize(cmd.Context(), types.TokenizeRequest{
				Model: id, Text: text, AddSpecial: addSpecial, ParseSpecial: parseSpecial,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	o.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "Text to tokenize")
	f.BoolVar(&addSpecial, "add-special", false, "Prepend the BOS token")
	f.BoolVar(&parseSpecial, "parse-special", false, "Recognize special token text such as <s>")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
