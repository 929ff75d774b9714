// Package sheets delivers extracted call data to Google Sheets.
package sheets

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// SpreadsheetInfo describes a spreadsheet the credential can read.
type SpreadsheetInfo struct {
	ID     string      `json:"spreadsheet_id"`
	Title  string      `json:"title"`
	Sheets []SheetInfo `json:"sheets"`
}

// SheetInfo is one tab of a spreadsheet.
type SheetInfo struct {
	ID    int64  `json:"sheet_id"`
	Title string `json:"title"`
}

// API is the subset of the Sheets API the sink uses.
type API interface {
	GetSpreadsheet(ctx context.Context, spreadsheetID string) (*SpreadsheetInfo, error)
	SetHeaderRow(ctx context.Context, spreadsheetID, sheetName string, headers []string) error
	AppendRow(ctx context.Context, spreadsheetID, sheetName string, values []string) error
}

// APIFactory builds an API bound to an access token.
type APIFactory func(ctx context.Context, token *oauth2.Token) (API, error)

type googleAPI struct {
	svc *gsheets.Service
}

// NewGoogleAPIFactory returns a factory for the real Sheets API. endpoint
// overrides the API base URL and is empty in production.
func NewGoogleAPIFactory(endpoint string) APIFactory {
	return func(ctx context.Context, token *oauth2.Token) (API, error) {
		opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		svc, err := gsheets.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create sheets service: %w", err)
		}
		return &googleAPI{svc: svc}, nil
	}
}

func (g *googleAPI) GetSpreadsheet(ctx context.Context, spreadsheetID string) (*SpreadsheetInfo, error) {
	ss, err := g.svc.Spreadsheets.Get(spreadsheetID).
		Fields("spreadsheetId", "properties.title", "sheets.properties(sheetId,title)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	info := &SpreadsheetInfo{ID: ss.SpreadsheetId}
	if ss.Properties != nil {
		info.Title = ss.Properties.Title
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			info.Sheets = append(info.Sheets, SheetInfo{ID: s.Properties.SheetId, Title: s.Properties.Title})
		}
	}
	return info, nil
}

// SetHeaderRow clears row 1, writes the headers and makes them bold on a grey background.
func (g *googleAPI) SetHeaderRow(ctx context.Context, spreadsheetID, sheetName string, headers []string) error {
	info, err := g.GetSpreadsheet(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	sheetID, err := resolveSheetID(info, sheetName)
	if err != nil {
		return err
	}

	headerRange := qualify(sheetName, "1:1")
	if _, err := g.svc.Spreadsheets.Values.Clear(spreadsheetID, headerRange, &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return err
	}

	vr := &gsheets.ValueRange{Values: [][]any{toRow(headers)}}
	if _, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, qualify(sheetName, "A1"), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return err
	}

	style := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			RepeatCell: &gsheets.RepeatCellRequest{
				Range: &gsheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(headers)),
					ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
				},
				Cell: &gsheets.CellData{
					UserEnteredFormat: &gsheets.CellFormat{
						TextFormat:      &gsheets.TextFormat{Bold: true},
						BackgroundColor: &gsheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		}},
	}
	_, err = g.svc.Spreadsheets.BatchUpdate(spreadsheetID, style).Context(ctx).Do()
	return err
}

func (g *googleAPI) AppendRow(ctx context.Context, spreadsheetID, sheetName string, values []string) error {
	vr := &gsheets.ValueRange{Values: [][]any{toRow(values)}}
	_, err := g.svc.Spreadsheets.Values.Append(spreadsheetID, qualify(sheetName, "A:A"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func resolveSheetID(info *SpreadsheetInfo, sheetName string) (int64, error) {
	if len(info.Sheets) == 0 {
		return 0, fmt.Errorf("spreadsheet %s has no sheets", info.ID)
	}
	if sheetName == "" {
		return info.Sheets[0].ID, nil
	}
	for _, s := range info.Sheets {
		if s.Title == sheetName {
			return s.ID, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found in spreadsheet %s", sheetName, info.ID)
}

// qualify prefixes an A1 range with a quoted sheet name when one is configured.
func qualify(sheetName, a1 string) string {
	if sheetName == "" {
		return a1
	}
	return "'" + escapeSheetName(sheetName) + "'!" + a1
}

func escapeSheetName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '\'' {
			out = append(out, '\'')
		}
		out = append(out, r)
	}
	return string(out)
}

func toRow(values []string) []any {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
