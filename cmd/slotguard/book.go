package main

import (
	"encoding/json"
	"fmt"

	"slotguard/internal/client"
	"slotguard/internal/models"

	"github.com/spf13/cobra"
)

func newBookCmd() *cobra.Command {
	var (
		baseURL string
		apiKey  string
		req     models.CreateBookingRequest
	)

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a seat through a running slotguard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.New(baseURL, apiKey).Book(cmd.Context(), req)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(res.Booking, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key sent as x-api-key")
	cmd.Flags().StringVar(&req.Date, "date", "", "slot date, YYYY-MM-DD")
	cmd.Flags().StringVar(&req.Time, "time", "", "slot time, HH:MM")
	cmd.Flags().StringVar(&req.Resource, "resource", "", "station or location name")
	cmd.Flags().StringVar(&req.CustomerRef, "customer", "", "customer reference")
	cmd.Flags().StringVar(&req.CustomerName, "name", "", "customer name")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "contact phone")
	cmd.Flags().IntVar(&req.Guests, "guests", 0, "number of guests")
	cmd.Flags().StringVar(&req.Comment, "comment", "", "free-form comment")
	for _, name := range []string{"date", "time", "resource", "customer"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
