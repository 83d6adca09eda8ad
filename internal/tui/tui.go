// Package tui runs the confirmation screen in a terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/services/orchestrator"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#D14343", Dark: "#FF6B6B"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	cardStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1)
	labelStyle = lipgloss.NewStyle().Foreground(subtle).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(special).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(warning)
)

var errAborted = errors.New("confirmation aborted by user")

// Screen confirmation screen driven from the terminal.
type Screen interface {
	State() orchestrator.ViewState
	Updates() <-chan orchestrator.ViewState
	SetAmount(amount decimal.Decimal) error
	SetPercent(pct decimal.Decimal) error
	SetTarget(target string) error
	SetTip(tip decimal.Decimal) error
	Confirm() error
	Retry() error
}

// Run asks for inputs, previews the fee and confirms until the transaction is sent or the user quits.
func Run(ctx context.Context, screen Screen, needsTarget bool) error {
	for {
		if err := askInputs(screen, needsTarget); err != nil {
			return err
		}

		state, err := waitFor(ctx, screen, func(v orchestrator.ViewState) bool {
			return v.Phase != orchestrator.PhaseEstimating
		})
		if err != nil {
			return err
		}

		clearScreen()
		fmt.Println(headerStyle.Render("CONFIRM TRANSACTION"))
		fmt.Println(Render(state))

		if state.FeeError != "" {
			retry, err := ask("Fee is unavailable. Retry estimation?", "Retry", "Edit inputs")
			if err != nil {
				return err
			}
			if retry {
				if err := screen.Retry(); err != nil {
					return err
				}
			}
			continue
		}

		send, err := ask("Sign and send?", "Yes, send", "No, edit")
		if err != nil {
			return err
		}
		if !send {
			continue
		}

		done, err := confirm(ctx, screen)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// confirm submits and reports whether the screen reached done.
func confirm(ctx context.Context, screen Screen) (bool, error) {
	err := screen.Confirm()
	var vf *domain.ValidationFailure
	switch {
	case errors.As(err, &vf):
		fmt.Println(errStyle.Render(vf.Reason))
		pause()
		return false, nil
	case errors.Is(err, domain.ErrScreenDone):
		return true, nil
	case err != nil && !errors.Is(err, domain.ErrSubmissionInProgress):
		return false, err
	}

	state, err := waitFor(ctx, screen, func(v orchestrator.ViewState) bool {
		return v.Phase == orchestrator.PhaseDone || v.Phase == orchestrator.PhaseConfiguring
	})
	if err != nil {
		return false, err
	}
	if state.Phase == orchestrator.PhaseDone {
		fmt.Println(okStyle.Render("✓ Sent, transaction " + state.TxHash))
		return true, nil
	}

	fmt.Println(errStyle.Render(state.SubmissionError))
	pause()
	return false, nil
}

func askInputs(screen Screen, needsTarget bool) error {
	state := screen.State()
	amountStr := ""
	if !state.Amount.IsZero() {
		amountStr = state.Amount.String()
	}
	target := state.Target
	tipStr := state.Tip.String()

	fields := []huh.Field{
		huh.NewInput().
			Title("Amount (" + state.Asset + ")").
			Description("A number, or a share of the balance like 50%").
			Value(&amountStr).
			Validate(func(s string) error {
				_, _, err := ParseAmount(s)
				return err
			}),
	}
	if needsTarget {
		fields = append(fields, huh.NewInput().
			Title("Recipient").
			Value(&target).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("recipient cannot be empty")
				}
				return nil
			}))
	}
	fields = append(fields, huh.NewInput().
		Title("Tip (" + state.Utility + ")").
		Value(&tipStr).
		Validate(validateTip))

	clearScreen()
	fmt.Println(headerStyle.Render("CONFIRM TRANSACTION"))
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return err
	}

	if needsTarget {
		if err := screen.SetTarget(strings.TrimSpace(target)); err != nil {
			return err
		}
	}
	tip, _ := decimal.NewFromString(strings.TrimSpace(tipStr))
	if err := screen.SetTip(tip); err != nil {
		return err
	}

	amount, percent, _ := ParseAmount(amountStr)
	if percent {
		return screen.SetPercent(amount)
	}
	return screen.SetAmount(amount)
}

// ApproveSigning asks the user to approve the signature, a refusal cancels signing.
func ApproveSigning(context.Context, []byte) error {
	approve, err := ask("Approve signature?", "Sign", "Cancel")
	if err != nil {
		return err
	}
	if !approve {
		return domain.ErrSigningCancelled
	}
	return nil
}

func ask(title, yes, no string) (bool, error) {
	var answer bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative(yes).
				Negative(no).
				Value(&answer),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, errAborted
	}
	return answer, err
}

func waitFor(ctx context.Context, screen Screen, done func(orchestrator.ViewState) bool) (orchestrator.ViewState, error) {
	state := screen.State()
	if done(state) {
		return state, nil
	}

	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("waiting for the network..."))
	for {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case v, ok := <-screen.Updates():
			if !ok {
				return state, domain.ErrScreenClosed
			}
			if done(v) {
				return v, nil
			}
		}
	}
}

// ParseAmount parses "1.5" as an amount and "50%" as a share of the balance.
func ParseAmount(s string) (decimal.Decimal, bool, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("must be a valid number")
	}
	if percent && (!d.IsPositive() || d.GreaterThan(decimal.NewFromInt(100))) {
		return decimal.Zero, false, fmt.Errorf("share must be between 0 and 100")
	}
	if d.IsNegative() {
		return decimal.Zero, false, fmt.Errorf("amount cannot be negative")
	}

	return d, percent, nil
}

func validateTip(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("tip cannot be negative")
	}
	return nil
}

// Render formats the view state as a card.
func Render(v orchestrator.ViewState) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Flow", v.Flow)
	row("Amount", withFiat(v.Amount.String()+" "+v.Asset, v.AmountFiat, v.Currency))
	if v.Target != "" {
		row("To", v.Target)
	}
	if !v.Tip.IsZero() {
		row("Tip", v.Tip.String()+" "+v.Utility)
	}

	switch {
	case v.Fee.Valid:
		row("Fee", withFiat(v.Fee.Decimal.String()+" "+v.Utility, v.FeeFiat, v.Currency))
	case v.FeeError != "":
		row("Fee", errStyle.Render(v.FeeError))
	default:
		row("Fee", "…")
	}

	if v.Balance.Valid {
		row("Balance", v.Balance.Decimal.String()+" "+v.Asset)
	}
	if v.Utility != v.Asset && v.UtilityBalance.Valid {
		row("Fee balance", v.UtilityBalance.Decimal.String()+" "+v.Utility)
	}
	for _, e := range []string{v.BalanceError, v.PriceError, v.ValidationError, v.SubmissionError} {
		if e != "" {
			b.WriteString(errStyle.Render(e))
			b.WriteString("\n")
		}
	}

	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func withFiat(value string, fiat decimal.NullDecimal, currency string) string {
	if !fiat.Valid {
		return value
	}
	return fmt.Sprintf("%s (%s %s)", value, fiat.Decimal.StringFixed(2), strings.ToUpper(currency))
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func pause() {
	time.Sleep(1500 * time.Millisecond)
}
