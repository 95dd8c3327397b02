package main

import (
	"github.com/spf13/cobra"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage commission policies",
	}
	cmd.AddCommand(newPolicyListCmd(a), newPolicyGetCmd(a), newPolicyPutCmd(a), newPolicyDeleteCmd(a))
	return cmd
}

func newPolicyListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policies, err := a.svc.ListPolicies(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]api.PolicyDTO, len(policies))
			for i, p := range policies {
				out[i] = api.ToPolicyDTO(p)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newPolicyGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get CODE",
		Short: "Show one policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.svc.GetPolicy(cmd.Context(), commission.PolicyCode(args[0]))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToPolicyDTO(p))
		},
	}
}

// newPolicyPutCmd creates or replaces every policy in a JSON or YAML file.
func newPolicyPutCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put -f FILE",
		Short: "Create or update policies from a JSON or YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			policies, err := factory.NewPolicyFactory().LoadPolicyFile(file)
			if err != nil {
				return err
			}
			out := make([]api.PolicyDTO, 0, len(policies))
			for _, p := range policies {
				saved, err := a.upsertPolicy(cmd, p, actor)
				if err != nil {
					return err
				}
				out = append(out, api.ToPolicyDTO(saved))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Policies file (.json, .yaml, .yml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) upsertPolicy(cmd *cobra.Command, p commission.Policy, actor string) (commission.Policy, error) {
	_, err := a.svc.GetPolicy(cmd.Context(), p.Code)
	switch {
	case err == nil:
		return a.svc.UpdatePolicy(cmd.Context(), p, actor)
	case commission.IsNotFound(err):
		return a.svc.CreatePolicy(cmd.Context(), p, actor)
	default:
		return commission.Policy{}, err
	}
}

func newPolicyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CODE",
		Short: "Delete a policy; existing records keep their snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			return a.svc.DeletePolicy(cmd.Context(), commission.PolicyCode(args[0]), actor)
		},
	}
}
