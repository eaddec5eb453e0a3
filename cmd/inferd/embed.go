package main

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"inferd/pkg/types"
)

func newEmbedCmd(root *rootOptions) *cobra.Command {
	var (
		o        oneShotOptions
		texts    []string
		noNormal bool
	)
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Print one embedding vector per --text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, id, _, err := o.open(cmd, root)
			if err != nil {
				return err
			}
			defer mgr.Close()
			normalize := !noNormal
			resp, err := mgr.Embed(cmd.Context(), types.EmbedRequest{Model: id, Input: texts, Normalize: &normalize})
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
	o.bind(cmd)
	f := cmd.Flags()
	f.StringArrayVar(&texts, "text", nil, "Text to embed (repeatable)")
	f.BoolVar(&noNormal, "raw", false, "Skip L2 normalization")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
