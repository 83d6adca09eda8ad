package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/txconfirm/config"
	"github.com/vadiminshakov/txconfirm/internal/domain"
)

// GeneratedConfig file written by the wizard.
const GeneratedConfig = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collected by the wizard.
type Answers struct {
	Mode      string
	Account   string
	ChainID   string
	RPCURL    string
	Symbol    string
	Precision string
	Deposit   string
	Fund      string
	Price     string
	Flow      string
}

// RunTUI launches the terminal configuration wizard and returns the path of the written config.
func RunTUI() (string, error) {
	a := Answers{
		Mode:      "simulate",
		Account:   "alice",
		ChainID:   "polkadot",
		Symbol:    "DOT",
		Precision: "10",
		Deposit:   "1",
		Fund:      "100",
		Price:     "6.5",
		Flow:      "transfer",
	}

	step := func(title string) {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render("TXCONFIRM CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(title))
	}

	step("STEP 1: NETWORK")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("No config found, let's create one.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should transactions go?").
				Options(
					huh.NewOption("Simulation (in-memory chain)", "simulate"),
					huh.NewOption("EVM network", "evm"),
				).
				Value(&a.Mode),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 2: ACCOUNT AND ASSET")
	fields := []huh.Field{
		huh.NewInput().Title("Chain ID").Value(&a.ChainID).Validate(notEmpty("chain id")),
		huh.NewInput().Title("Native asset symbol").Value(&a.Symbol).Validate(notEmpty("symbol")),
		huh.NewInput().Title("Precision").Description("Decimals of the smallest unit").Value(&a.Precision).Validate(validatePrecision),
		huh.NewInput().Title("Existential deposit").Value(&a.Deposit).Validate(validateDecimal),
		huh.NewInput().Title("Price").Description("Static price in USD").Value(&a.Price).Validate(validateDecimal),
	}
	if a.Mode == "simulate" {
		fields = append([]huh.Field{huh.NewInput().Title("Account").Value(&a.Account).Validate(notEmpty("account"))}, fields...)
		fields = append(fields, huh.NewInput().Title("Initial balance").Value(&a.Fund).Validate(validateDecimal))
	} else {
		a.ChainID, a.Symbol, a.Precision, a.Deposit = "1", "ETH", "18", "0"
		fields = append(fields, huh.NewInput().Title("RPC URL").Value(&a.RPCURL).Validate(notEmpty("rpc url")))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return "", err
	}

	step("STEP 3: FLOW")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What do you want to confirm?").
				Options(
					huh.NewOption("Transfer", domain.FlowTransfer.String()),
					huh.NewOption("Bond and nominate", domain.FlowBondInitiate.String()),
				).
				Value(&a.Flow),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf("Mode: %s\nChain: %s\nAsset: %s\nFlow: %s\n", a.Mode, a.ChainID, a.Symbol, a.Flow)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	data, err := Generate(a)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(GeneratedConfig, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", GeneratedConfig)))
	time.Sleep(1500 * time.Millisecond)

	return GeneratedConfig, nil
}

// Generate renders the answers as a yaml config.
func Generate(a Answers) ([]byte, error) {
	precision, err := strconv.ParseInt(a.Precision, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid precision %q", a.Precision)
	}
	ref := domain.ChainAssetRef{ChainID: a.ChainID}.String()

	cfg := config.ConfigTmp{
		Simulate: a.Mode == "simulate",
		Account:  a.Account,
		Assets: []config.AssetTmp{{
			Ref:                   ref,
			Symbol:                a.Symbol,
			Precision:             int32(precision),
			Kind:                  string(domain.AssetKindNative),
			ExistentialDepositStr: a.Deposit,
			PriceStr:              a.Price,
		}},
		Confirmation: config.ConfirmationTmp{
			Asset: ref,
			Flow:  config.FlowTmp{Kind: a.Flow},
		},
	}
	if cfg.Simulate {
		cfg.Assets[0].FundStr = a.Fund
	} else {
		cfg.Account = ""
		cfg.Networks = []config.NetworkTmp{{ChainID: a.ChainID, RPCURL: a.RPCURL}}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate yaml: %w", err)
	}
	return data, nil
}

func notEmpty(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		return nil
	}
}

func validatePrecision(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 36 {
		return fmt.Errorf("must be an integer between 0 and 36")
	}
	return nil
}

func validateDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
