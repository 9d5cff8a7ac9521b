// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ragd-dev/ragd/internal/config"
	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/secrets"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// initHTTPClient is the HTTP client used for provider key validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// ProviderType aliases provider.ProviderName for use in the init wizard.
type ProviderType = provider.ProviderName

const (
	ProviderAnthropic  = provider.ProviderAnthropic
	ProviderOpenAI     = provider.ProviderOpenAI
	ProviderGoogle     = provider.ProviderGoogle
	ProviderOpenRouter = provider.ProviderOpenRouter
)

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepProvider    initWizardStep = iota // select provider
	stepAPIKey                            // enter API key
	stepValidateKey                       // validating key (spinner)
	stepEmbedding                         // select embedding backend
	stepVector                            // select vector backend
	stepDetail                            // free-text detail for the chosen backend
	stepWriting                           // writing config
	stepDone                              // wizard complete
	stepError                             // terminal error
)

// detailKind names what stepDetail is collecting.
type detailKind int

const (
	detailNone detailKind = iota
	detailEmbeddingKey
	detailVectorsPath
	detailMilvusAddress
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Provider        ProviderType
	APIKey          string
	Embedding       string
	EmbeddingAPIKey string
	VectorsPath     string
	Vector          string
	MilvusAddress   string
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{}
	validationErrorMsg   struct{ err error }
	configWrittenMsg     struct{ path string }
)

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

var supportedProviders = []ProviderType{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderGoogle,
	ProviderOpenRouter,
}

// The local backend needs both an endpoint and a model name, so it is
// left to hand-edited config.
var supportedEmbeddings = []string{"openai", "google", "ollama", "fasttext"}

var supportedVectors = []string{"sqlite", "milvus", "memory"}

// embeddingDimensions are the native sizes of each backend's default model.
var embeddingDimensions = map[string]int{
	"openai":   1536,
	"google":   768,
	"ollama":   1024,
	"fasttext": 300,
}

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	providerIdx    int
	embeddingIdx   int
	vectorIdx      int
	apiKeyInput    textinput.Model
	detailInput    textinput.Model
	detail         detailKind
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepProvider,
		apiKeyInput: apiKey,
		detailInput: textinput.New(),
		spinner:     sp,
		secretStore: store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		m.step = stepEmbedding
		return m, nil

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		m.step = stepAPIKey
		m.apiKeyInput.Focus()
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepProvider:
		return m.handleProviderKey(msg)
	case stepAPIKey:
		return m.handleAPIKeyInput(msg)
	case stepEmbedding:
		return m.handleEmbeddingKey(msg)
	case stepVector:
		return m.handleVectorKey(msg)
	case stepDetail:
		return m.handleDetailInput(msg)
	}
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	return m, nil
}

// moveCursor applies up/down navigation to idx within a list of n items.
func moveCursor(key string, idx, n int) int {
	switch key {
	case "up", "k":
		if idx > 0 {
			return idx - 1
		}
	case "down", "j":
		if idx < n-1 {
			return idx + 1
		}
	}
	return idx
}

func (m initModel) handleProviderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.result.Provider = supportedProviders[m.providerIdx]
		m.step = stepAPIKey
		m.validationErr = ""
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	m.providerIdx = moveCursor(msg.String(), m.providerIdx, len(supportedProviders))
	return m, nil
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.result.APIKey = key
		m.validationErr = ""
		m.step = stepValidateKey
		return m, tea.Batch(
			m.spinner.Tick,
			validateProviderKeyCmd(m.result.Provider, key),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) handleEmbeddingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		backend := supportedEmbeddings[m.embeddingIdx]
		m.result.Embedding = backend
		switch {
		case backend == "fasttext":
			return m.askDetail(detailVectorsPath)
		case (backend == "openai" || backend == "google") && string(m.result.Provider) != backend:
			return m.askDetail(detailEmbeddingKey)
		}
		m.step = stepVector
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	m.embeddingIdx = moveCursor(msg.String(), m.embeddingIdx, len(supportedEmbeddings))
	return m, nil
}

func (m initModel) handleVectorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.result.Vector = supportedVectors[m.vectorIdx]
		if m.result.Vector == "milvus" {
			return m.askDetail(detailMilvusAddress)
		}
		return m.finish()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	m.vectorIdx = moveCursor(msg.String(), m.vectorIdx, len(supportedVectors))
	return m, nil
}

func (m initModel) askDetail(kind detailKind) (tea.Model, tea.Cmd) {
	m.step = stepDetail
	m.detail = kind
	m.validationErr = ""

	in := textinput.New()
	switch kind {
	case detailEmbeddingKey:
		in.Placeholder = "paste " + m.result.Embedding + " API key here"
		in.EchoMode = textinput.EchoPassword
		in.EchoCharacter = '•'
	case detailVectorsPath:
		in.Placeholder = "/path/to/cc.en.300.vec"
	case detailMilvusAddress:
		in.SetValue("localhost:19530")
	}
	in.Focus()
	m.detailInput = in
	return m, textinput.Blink
}

func (m initModel) handleDetailInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		value := strings.TrimSpace(m.detailInput.Value())
		if value == "" {
			m.validationErr = "value must not be empty"
			return m, nil
		}
		m.validationErr = ""
		switch m.detail {
		case detailEmbeddingKey:
			m.result.EmbeddingAPIKey = value
			m.step = stepVector
			return m, nil
		case detailVectorsPath:
			m.result.VectorsPath = value
			m.step = stepVector
			return m, nil
		case detailMilvusAddress:
			m.result.MilvusAddress = value
			return m.finish()
		}
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.detailInput, cmd = m.detailInput.Update(msg)
	return m, cmd
}

func (m initModel) finish() (tea.Model, tea.Cmd) {
	m.step = stepWriting
	return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
}

func (m initModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case stepAPIKey:
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	case stepDetail:
		m.detailInput, cmd = m.detailInput.Update(msg)
	}
	return m, cmd
}

func renderChoices(b *strings.Builder, items []string, selected int) {
	for i, item := range items {
		if i == selected {
			b.WriteString(selectedStyle.Render("  > "+item) + "\n")
		} else {
			b.WriteString(dimStyle.Render("    "+item) + "\n")
		}
	}
	b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  ragd Setup Wizard  ") + "\n\n")

	switch m.step {
	case stepProvider:
		b.WriteString(promptStyle.Render("Step 1/3: Choose the LLM provider that answers questions") + "\n\n")
		names := make([]string, len(supportedProviders))
		for i, p := range supportedProviders {
			names[i] = string(p)
		}
		renderChoices(&b, names, m.providerIdx)

	case stepAPIKey:
		b.WriteString(promptStyle.Render("Step 1/3: "+string(m.result.Provider)+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + string(m.result.Provider) + " API key…\n")

	case stepEmbedding:
		b.WriteString(promptStyle.Render("Step 2/3: Choose the embedding backend") + "\n\n")
		renderChoices(&b, supportedEmbeddings, m.embeddingIdx)

	case stepVector:
		b.WriteString(promptStyle.Render("Step 3/3: Choose where vectors are stored") + "\n\n")
		renderChoices(&b, supportedVectors, m.vectorIdx)

	case stepDetail:
		b.WriteString(promptStyle.Render(m.detailPrompt()) + "\n\n")
		b.WriteString(m.detailInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepWriting:
		b.WriteString(m.spinner.View() + " Writing configuration…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("ragd start") + " then " + promptStyle.Render("ragd ingest <file> --rag <name>") + ".\n")
		b.WriteString("Run " + promptStyle.Render("ragd doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func (m initModel) detailPrompt() string {
	switch m.detail {
	case detailEmbeddingKey:
		return "Step 2/3: " + m.result.Embedding + " API key for embeddings"
	case detailVectorsPath:
		return "Step 2/3: path to a fastText .vec file"
	case detailMilvusAddress:
		return "Step 3/3: Milvus address"
	}
	return ""
}

// --- tea.Cmd factories ---

func validateProviderKeyCmd(p ProviderType, key string) tea.Cmd {
	return func() tea.Msg {
		if err := provider.ValidateKey(context.Background(), initHTTPClient, p, key); err != nil {
			return validationErrorMsg{err: err}
		}
		return validationSuccessMsg{}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation (exported for tests) ---

type generatedConfig struct {
	Server    generatedServer              `yaml:"server"`
	Vector    generatedVector              `yaml:"vector"`
	Embedding generatedEmbedding           `yaml:"embedding"`
	Models    generatedModels              `yaml:"models"`
	Providers map[string]generatedProvider `yaml:"providers"`
}

type generatedServer struct {
	Listen string `yaml:"listen"`
}

type generatedVector struct {
	Backend    string           `yaml:"backend"`
	Dimensions int              `yaml:"dimensions"`
	Milvus     *generatedMilvus `yaml:"milvus,omitempty"`
}

type generatedMilvus struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

type generatedEmbedding struct {
	Backend     string `yaml:"backend"`
	APIKey      string `yaml:"api_key,omitempty"`
	VectorsPath string `yaml:"vectors_path,omitempty"`
}

type generatedModels struct {
	Default string `yaml:"default"`
}

type generatedProvider struct {
	APIKey string `yaml:"api_key"`
}

const generatedHeader = "# ragd configuration, generated by `ragd init`.\n" +
	"# API keys live in the OS keyring; see `ragd secret list`.\n\n"

// GenerateConfigYAML produces a minimal ragd.yaml from the wizard result.
// API keys are referenced via keyring:// URIs; the actual secrets are
// stored separately by storeSecretAndWriteConfig.
func GenerateConfigYAML(result initResult) ([]byte, error) {
	cfg := generatedConfig{
		Server: generatedServer{Listen: defaultGatewayAddr},
		Vector: generatedVector{
			Backend:    result.Vector,
			Dimensions: embeddingDimensions[result.Embedding],
		},
		Embedding: generatedEmbedding{
			Backend:     result.Embedding,
			VectorsPath: result.VectorsPath,
		},
		Models: generatedModels{Default: defaultModelForProvider(result.Provider)},
		Providers: map[string]generatedProvider{
			string(result.Provider): {APIKey: secrets.URI(secretKeyName(string(result.Provider)))},
		},
	}
	if result.Vector == "milvus" {
		cfg.Vector.Milvus = &generatedMilvus{Address: result.MilvusAddress, Collection: "ragd_chunks"}
	}
	if result.EmbeddingAPIKey != "" {
		cfg.Embedding.APIKey = secrets.URI(secretKeyName(result.Embedding))
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "encoding config")
	}
	return append([]byte(generatedHeader), data...), nil
}

// secretKeyName is the keyring key holding name's API key.
func secretKeyName(name string) string {
	return name + "-api-key"
}

// defaultModelForProvider returns a sensible default model string for a provider.
func defaultModelForProvider(p ProviderType) string {
	switch p {
	case ProviderAnthropic:
		return "anthropic/claude-sonnet-4-5"
	case ProviderOpenAI:
		return "openai/gpt-4o"
	case ProviderGoogle:
		return "google/gemini-2.0-flash"
	case ProviderOpenRouter:
		return "openrouter/anthropic/claude-sonnet-4-5"
	default:
		return string(p) + "/default"
	}
}

// storeSecretAndWriteConfig saves API keys to the OS keyring and writes the
// config YAML to the default config path. Without forceOverwrite an
// existing file is left alone and an error asks for --force.
func storeSecretAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	if err := store.Store(secrets.DefaultService, secretKeyName(string(result.Provider)), result.APIKey); err != nil {
		return "", ragerr.Errorf(ragerr.CodeSecretStoreFailure, "storing %s API key: %w", result.Provider, err)
	}
	// Keys already stored stay in the keyring if the write below fails; a
	// later run overwrites them.
	if result.EmbeddingAPIKey != "" {
		if err := store.Store(secrets.DefaultService, secretKeyName(result.Embedding), result.EmbeddingAPIKey); err != nil {
			return "", ragerr.Errorf(ragerr.CodeSecretStoreFailure, "storing %s embedding key: %w", result.Embedding, err)
		}
	}

	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	data, err := GenerateConfigYAML(result)
	if err != nil {
		return "", err
	}

	written, err := config.WriteConfig(cfgPath, data, forceOverwrite)
	if err != nil {
		return "", err
	}
	if !written {
		return "", ragerr.Errorf(ragerr.CodeConfigAlreadyExists,
			"config file already exists at %s; use --force to overwrite", cfgPath)
	}

	return cfgPath, nil
}

// configPathForWrite returns the path `ragd init` writes to. Exported as a
// variable so tests can override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard for ragd",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Choosing the LLM provider that answers questions
  2. Choosing the embedding backend
  3. Choosing the vector store

API keys are stored in the OS keyring and referenced via keyring://
URIs in the config file. No secrets are written in plain text.

After completion, run:
  ragd start    start the gateway
  ragd doctor   verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"ragd init requires an interactive terminal.\n"+
				"To configure ragd non-interactively, edit ~/.config/ragd/ragd.yaml directly.")
		return ragerr.New(ragerr.CodeCLISetupFailure, "ragd init: not an interactive terminal")
	}

	forceOverwrite, _ := cmd.Flags().GetBool("force")

	m := newInitModel(secretStoreFactory())
	m.forceOverwrite = forceOverwrite

	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return ragerr.Errorf(ragerr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return ragerr.New(ragerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}

	if fm.errFinal != nil {
		return ragerr.Errorf(ragerr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", fm.configPath)
	}
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
