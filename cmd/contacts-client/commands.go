package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tbourn/go-contacts/internal/domain"
	"github.com/tbourn/go-contacts/internal/reconcile"
	"github.com/tbourn/go-contacts/internal/sysutil"
	"github.com/tbourn/go-contacts/internal/utils"
)

const defaultRandomCount = 10

func (a *app) list(args []string) error {
	fs := newFlagSet("list")
	favorites := fs.Bool("favorites", false, "only favorites")
	pendingOnly := fs.Bool("pending", false, "only contacts with unsynced changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	contacts := a.engine.Contacts()
	shown := contacts[:0]
	for _, c := range contacts {
		if (*favorites && !c.IsFavorite) || (*pendingOnly && !c.PendingSync) {
			continue
		}
		shown = append(shown, c)
	}
	printContacts(a.out, shown)
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	id, err := oneID("show", args)
	if err != nil {
		return err
	}
	c, err := a.engine.Contact(ctx, id)
	if err != nil {
		return err
	}
	printContact(a.out, c)
	return nil
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := newFlagSet("add")
	var f reconcile.Form
	bindForm(fs, &f)
	fav := fs.Bool("fav", false, "mark as favorite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f.IsFavorite = *fav

	c, err := a.engine.Create(ctx, f)
	if err != nil {
		return err
	}
	a.report(c, "created")
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("update: missing contact id")
	}
	id := args[0]
	current, err := a.engine.Contact(ctx, id)
	if err != nil {
		return err
	}

	fs := newFlagSet("update")
	f := reconcile.FormFrom(current)
	bindForm(fs, &f)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	c, err := a.engine.Update(ctx, id, f)
	if err != nil {
		return err
	}
	a.report(c, "updated")
	return nil
}

func (a *app) favorite(ctx context.Context, args []string) error {
	id, err := oneID("fav", args)
	if err != nil {
		return err
	}
	c, err := a.engine.ToggleFavorite(ctx, id)
	if err != nil {
		return err
	}
	state := "removed from favorites"
	if c.IsFavorite {
		state = "added to favorites"
	}
	a.report(c, state)
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("rm: missing contact id")
	}
	id := args[0]
	fs := newFlagSet("rm")
	yes := fs.Bool("y", false, "do not ask for confirmation")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if !*yes {
		label := id
		if c, err := a.engine.Contact(ctx, id); err == nil {
			label = fmt.Sprintf("%s <%s>", c.FullName(), c.Email)
		}
		if !confirm(a.in, a.out, fmt.Sprintf("Delete %s? [y/N] ", label)) {
			fmt.Fprintln(a.out, "cancelled")
			return nil
		}
	}

	if err := a.engine.Delete(ctx, id); err != nil {
		return err
	}
	if a.monitor.Online() {
		fmt.Fprintf(a.out, "deleted %s\n", id)
	} else {
		fmt.Fprintf(a.out, "deleted %s locally, will sync when online\n", id)
	}
	return nil
}

func (a *app) random(ctx context.Context, args []string) error {
	count := defaultRandomCount
	if len(args) > 0 {
		count = utils.AtoiDefault(args[0], defaultRandomCount)
	}
	added, err := a.engine.AddRandomBatch(ctx, count)
	if errors.Is(err, reconcile.ErrOffline) {
		return errors.New("random contacts need the contacts store; try again when online")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added %d of %d random contacts\n", len(added), count)
	return nil
}

func (a *app) sync(ctx context.Context) error {
	if !a.monitor.Probe(ctx) {
		return fmt.Errorf("%w: %d changes stay queued", reconcile.ErrOffline, len(a.engine.Pending()))
	}
	n, err := a.engine.Drain(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := a.engine.Reload(ctx); err != nil {
			return err
		}
	}
	left := len(a.engine.Pending())
	fmt.Fprintf(a.out, "replayed %d, %d still queued\n", n, left)
	if left > 0 && a.engine.LastError() != nil {
		fmt.Fprintf(a.out, "last error: %v\n", a.engine.LastError())
	}
	return nil
}

func (a *app) reload(ctx context.Context) error {
	if err := a.engine.Reload(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d contacts\n", len(a.engine.Contacts()))
	return nil
}

func (a *app) pending() error {
	ops := a.engine.Pending()
	if len(ops) == 0 {
		fmt.Fprintln(a.out, "nothing queued")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tCONTACT\tNAME\tQUEUED")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", op.Operation, op.Data.ID, op.Data.FullName(), op.Timestamp.Local().Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func (a *app) status() error {
	state := "offline"
	if a.monitor.Online() {
		state = "online"
	}
	fmt.Fprintf(a.out, "store:    %s (%s)\ncontacts: %d\nqueued:   %d\n",
		a.cfg.APIURL, state, len(a.engine.Contacts()), len(a.engine.Pending()))
	return nil
}

func (a *app) report(c domain.Contact, what string) {
	suffix := ""
	if c.PendingSync {
		suffix = " (offline, will sync)"
	}
	fmt.Fprintf(a.out, "%s %s <%s> [%s]%s\n", what, c.FullName(), c.Email, c.ID, suffix)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// bindForm registers one flag per editable field, defaulting to f's
// current values.
func bindForm(fs *flag.FlagSet, f *reconcile.Form) {
	fs.StringVar(&f.Name.First, "first", f.Name.First, "first name")
	fs.StringVar(&f.Name.Last, "last", f.Name.Last, "last name")
	fs.StringVar(&f.Email, "email", f.Email, "email address")
	fs.StringVar(&f.Phone, "phone", f.Phone, "phone number")
	fs.StringVar(&f.Cell, "cell", f.Cell, "cell number")
	fs.StringVar(&f.Picture, "picture", f.Picture, "picture URL")
	fs.StringVar(&f.Dob, "dob", f.Dob, "date of birth, RFC 3339")
	fs.IntVar(&f.Location.Street.Number, "street-number", f.Location.Street.Number, "street number")
	fs.StringVar(&f.Location.Street.Name, "street", f.Location.Street.Name, "street name")
	fs.StringVar(&f.Location.City, "city", f.Location.City, "city")
	fs.StringVar(&f.Location.State, "region", f.Location.State, "state or region")
	fs.StringVar(&f.Location.Country, "country", f.Location.Country, "country")
	fs.StringVar(&f.Location.Postcode, "postcode", f.Location.Postcode, "postcode")
}

func oneID(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s: expected exactly one contact id", cmd)
	}
	return args[0], nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return sysutil.IsTruthy(line)
}

func printContacts(w io.Writer, contacts []domain.Contact) {
	if len(contacts) == 0 {
		fmt.Fprintln(w, "no contacts")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tPHONE\tFAV\tSYNC")
	for _, c := range contacts {
		fav, sync := "", ""
		if c.IsFavorite {
			fav = "*"
		}
		if c.PendingSync {
			sync = "pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.FullName(), c.Email, c.Phone, fav, sync)
	}
	_ = tw.Flush()
}

func printContact(w io.Writer, c domain.Contact) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s\t%s\n", k, v)
		}
	}
	row("id", c.ID)
	row("name", c.FullName())
	row("email", c.Email)
	row("phone", c.Phone)
	row("cell", c.Cell)
	addr := strings.TrimSpace(fmt.Sprintf("%s %s", streetNumber(c.Location.Street.Number), c.Location.Street.Name))
	row("street", addr)
	row("city", joinNonEmpty(", ", c.Location.City, c.Location.State, c.Location.Postcode))
	row("country", c.Location.Country)
	row("born", c.Dob.Date)
	if c.Dob.Date != "" {
		row("age", fmt.Sprint(c.Dob.Age))
	}
	row("registered", c.Registered.Date)
	row("picture", c.Picture.Large)
	if c.IsFavorite {
		row("favorite", "yes")
	}
	if c.PendingSync {
		row("sync", "pending")
	}
	_ = tw.Flush()
}

func streetNumber(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprint(n)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
