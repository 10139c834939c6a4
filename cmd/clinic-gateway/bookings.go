// ABOUTME: The bookings subcommand lists appointments straight from the gateway database
// ABOUTME: Slot times are shown in the clinic's timezone, status is colorized

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/clinic-gateway/internal/config"
	"github.com/2389/clinic-gateway/internal/slots"
	"github.com/2389/clinic-gateway/internal/store"
)

func runBookings(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("bookings", flag.ContinueOnError)
	fs.SetOutput(out)
	all := fs.Bool("all", false, "include past and cancelled bookings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	bookings, err := s.ListBookings(ctx)
	if err != nil {
		return fmt.Errorf("listing bookings: %w", err)
	}

	return printBookings(out, bookings, cfg.Clinic.Rules().Location, time.Now(), *all)
}

// printBookings writes a table of bookings. Unless all is set, cancelled
// bookings and slots before now are skipped.
func printBookings(out io.Writer, bookings []*store.Booking, loc *time.Location, now time.Time, all bool) error {
	if loc == nil {
		loc = time.Local
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLOT\tPATIENT\tPHONE\tSTATUS")

	shown := 0
	for _, b := range bookings {
		if !all && (b.Status == store.StatusCancelled || b.SlotAt.Before(now)) {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			b.ID,
			slots.Describe(b.SlotAt.In(loc)),
			b.PatientName,
			b.Phone,
			statusColor(b.Status).Sprint(b.Status),
		)
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if shown == 0 {
		color.New(color.FgHiBlack).Fprintln(out, "no bookings")
	}
	return nil
}

func statusColor(s store.BookingStatus) *color.Color {
	switch s {
	case store.StatusConfirmed:
		return color.New(color.FgGreen)
	case store.StatusPending:
		return color.New(color.FgYellow)
	case store.StatusCancelled, store.StatusNoShow:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}
