package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"finledger/internal/core"
	"finledger/internal/log"
	ports "finledger/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Column layout of the mirror sheet. Row 1 is the header.
var header = []any{"ID", "Date", "Title", "Type", "Category", "Amount", "Currency", "Description", "Recurring ID"}

const lastColumn = "I"

// Config selects the spreadsheet and the service account used to reach it.
type Config struct {
	SpreadsheetID string
	// SheetName defaults to "Transactions".
	SheetName string
	// CredentialsJSON wins over CredentialsFile. With neither set,
	// GOOGLE_APPLICATION_CREDENTIALS is used.
	CredentialsJSON string
	CredentialsFile string
	// CacheTTL bounds how long the id to row index is trusted (default: 5m).
	CacheTTL time.Duration
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger

	// Row index cache, refreshed from column A after expiry.
	mu                 sync.Mutex
	rowIndex           map[string]int
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
	sheetID            *int64
}

// Ensure interface conformance
var (
	_ ports.TransactionMirror = (*Client)(nil)
	_ ports.TransactionLister = (*Client)(nil)
)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentSheets)

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, spreadsheetID, cfg, logger), nil
}

func newClient(svc *gsheet.Service, spreadsheetID string, cfg Config, logger *log.Logger) *Client {
	name := strings.TrimSpace(cfg.SheetName)
	if name == "" {
		name = "Transactions"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetName:          name,
		logger:             logger,
		cacheValidDuration: ttl,
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Upsert writes tx over its existing row, or appends a row when the id is
// not in the sheet yet.
func (c *Client) Upsert(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return "", errors.New("transaction without id")
	}

	row, exists, err := c.rowFor(ctx, tx.ID)
	if err != nil {
		return "", err
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheetName, row, lastColumn, row)
	vr := &gsheet.ValueRange{Values: [][]any{transactionToRow(tx)}}
	if !exists && row == 2 {
		// empty sheet: write the header along with the first row
		rng = fmt.Sprintf("%s!A1:%s2", c.sheetName, lastColumn)
		vr.Values = append([][]any{header}, vr.Values...)
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		c.InvalidateRowCache()
		return "", fmt.Errorf("failed to write %s: %w", rng, err)
	}

	if !exists {
		c.mu.Lock()
		if c.rowIndex != nil {
			c.rowIndex[tx.ID] = row
			if row > c.cachedRowCount {
				c.cachedRowCount = row
			}
		}
		c.mu.Unlock()
	}

	c.logger.DebugContext(ctx, "Mirrored transaction",
		log.FieldTransactionID, tx.ID,
		"range", rng,
		"appended", !exists)
	return rng, nil
}

// Delete removes the row of id; unknown ids are ignored.
func (c *Client) Delete(ctx context.Context, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	row, exists, err := c.rowFor(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	sheetID, err := c.sheetIdentifier(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		DeleteDimension: &gsheet.DeleteDimensionRequest{Range: &gsheet.DimensionRange{
			SheetId:    sheetID,
			Dimension:  "ROWS",
			StartIndex: int64(row - 1),
			EndIndex:   int64(row),
		}},
	}}}
	// Rows below shift up, so the cached index is stale either way.
	defer c.InvalidateRowCache()
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d in %s: %w", row, c.sheetName, err)
	}
	return nil
}

// Replace clears the sheet and writes txs below the header.
func (c *Client) Replace(ctx context.Context, txs []core.Transaction) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	defer c.InvalidateRowCache()

	clearRng := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", clearRng, err)
	}

	values := make([][]any, 0, len(txs)+1)
	values = append(values, header)
	for _, tx := range txs {
		values = append(values, transactionToRow(tx))
	}
	rng := fmt.Sprintf("%s!A1:%s%d", c.sheetName, lastColumn, len(values))
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", rng, err)
	}

	c.logger.InfoContext(ctx, "Mirror replaced", log.FieldCount, len(txs))
	return nil
}

// ListTransactions reads the rows dated in the given month. Rows that do
// not parse are skipped.
func (c *Client) ListTransactions(ctx context.Context, year int, month int) ([]core.Transaction, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month: %d", month)
	}
	rng := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	var out []core.Transaction
	for _, row := range resp.Values {
		tx, ok := rowToTransaction(toStrings(row))
		if !ok || !tx.Date.InMonth(month, year) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// InvalidateRowCache forces the next lookup to re-read column A.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheExpiresAt = time.Time{}
	c.rowIndex = nil
}

// rowFor returns the 1-based row of id, or the next free row when id is not
// present.
func (c *Client) rowFor(ctx context.Context, id string) (int, bool, error) {
	c.mu.Lock()
	valid := c.rowIndex != nil && time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()

	if !valid {
		if err := c.loadRowIndex(ctx); err != nil {
			return 0, false, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.rowIndex[id]; ok {
		return row, true, nil
	}
	return nextRow(c.cachedRowCount), false, nil
}

func (c *Client) loadRowIndex(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read ids from %s: %w", c.sheetName, err)
	}
	index := buildRowIndex(resp.Values)

	c.mu.Lock()
	c.rowIndex = index
	c.cachedRowCount = len(resp.Values)
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()
	return nil
}

func (c *Client) sheetIdentifier(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.sheetID != nil {
		id := *c.sheetID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet properties: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheetName {
			id := s.Properties.SheetId
			c.mu.Lock()
			c.sheetID = &id
			c.mu.Unlock()
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", c.sheetName)
}

// nextRow keeps row 1 for the header even on an empty sheet.
func nextRow(rowCount int) int {
	if rowCount < 1 {
		return 2
	}
	return rowCount + 1
}
