package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

func (a *app) instructionsCmd() *cobra.Command {
	var (
		schemaPath string
		variant    string
		feedback   []string
		fields     []string
		jsonSchema bool
	)

	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Print the format instructions sent to the model for a schema",
		Long: `Renders the format directive appended to the seed prompt, without calling
the model. Variants: original, add-examples, simplify, add-explicit-constraints.
--fields prints the short directive used by a focused re-request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := loadSchema(schemaPath)
			if err != nil {
				return err
			}

			if jsonSchema {
				return a.writeJSON(desc.JSONSchema())
			}
			if len(fields) > 0 {
				_, err := fmt.Fprintln(a.stdout, schema.SimplifiedInstructions(desc, fields))
				return err
			}

			v, err := schema.ParseVariant(variant)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, schema.Instructions(desc, v, feedback))
			return err
		},
	}

	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "schema file (YAML or JSON)")
	cmd.Flags().StringVar(&variant, "variant", string(schema.VariantOriginal), "prompt variant")
	cmd.Flags().StringSliceVar(&feedback, "feedback", nil, "feedback lines for add-explicit-constraints")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "render the re-request directive for these fields")
	cmd.Flags().BoolVar(&jsonSchema, "json-schema", false, "print the schema as JSON Schema instead")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}
