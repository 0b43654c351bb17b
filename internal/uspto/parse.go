package uspto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joelkehle/designwatch/internal/patent"
)

type wrapperItem struct {
	ApplicationNumberText string   `json:"applicationNumberText"`
	ApplicationMetaData   metaData `json:"applicationMetaData"`
}

type metaData struct {
	PatentNumber          string          `json:"patentNumber"`
	InventionTitle        string          `json:"inventionTitle"`
	ApplicationNumberText string          `json:"applicationNumberText"`
	GrantDate             string          `json:"grantDate"`
	PatentIssueDate       string          `json:"patentIssueDate"`
	FilingDate            string          `json:"filingDate"`
	InventorBag           []inventorEntry `json:"inventorBag"`
	FirstInventorName     string          `json:"firstInventorName"`
	FirstApplicantName    string          `json:"firstApplicantName"`
	USPCSymbolText        string          `json:"uspcSymbolText"`
	CPCClassificationBag  []string        `json:"cpcClassificationBag"`
}

type inventorEntry struct {
	InventorNameText string `json:"inventorNameText"`
}

// parsePatent maps one patentFileWrapperDataBag entry onto a Patent.
// Entries without a patent number or grant date are dropped.
func parsePatent(raw json.RawMessage) (patent.Patent, bool) {
	var item wrapperItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return patent.Patent{}, false
	}
	meta := item.ApplicationMetaData

	number := strings.TrimSpace(meta.PatentNumber)
	if number == "" {
		return patent.Patent{}, false
	}

	issueDateStr := meta.GrantDate
	if issueDateStr == "" {
		issueDateStr = meta.PatentIssueDate
	}
	issueDate, err := time.Parse("2006-01-02", issueDateStr)
	if err != nil {
		return patent.Patent{}, false
	}

	appNumber := item.ApplicationNumberText
	if appNumber == "" {
		appNumber = meta.ApplicationNumberText
	}

	var inventors []string
	for _, inv := range meta.InventorBag {
		if name := strings.TrimSpace(inv.InventorNameText); name != "" {
			inventors = append(inventors, name)
		}
	}
	if len(inventors) == 0 && meta.FirstInventorName != "" {
		inventors = []string{meta.FirstInventorName}
	}

	p := patent.Patent{
		PatentNumber:      number,
		ApplicationNumber: appNumber,
		Title:             meta.InventionTitle,
		IssueDate:         issueDate,
		Inventors:         inventors,
		Assignee:          meta.FirstApplicantName,
		ClassificationUS:  meta.USPCSymbolText,
		ClassificationCPC: strings.Join(meta.CPCClassificationBag, "; "),
		Status:            patent.StatusNew,
	}
	if meta.FilingDate != "" {
		if fd, err := time.Parse("2006-01-02", meta.FilingDate); err == nil {
			p.FilingDate = &fd
		}
	}
	return p, true
}

// PatentByNumber looks up a single patent by its patent number.
func (c *Client) PatentByNumber(ctx context.Context, number string) (patent.Patent, bool, error) {
	params := url.Values{}
	params.Set("q", "applicationMetaData.patentNumber:"+number)
	params.Set("rows", "1")

	body, err := c.get(ctx, searchEndpoint+"?"+params.Encode())
	if err != nil || body == nil {
		return patent.Patent{}, false, err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return patent.Patent{}, false, fmt.Errorf("decode search response: %w", err)
	}
	if len(resp.Bag) == 0 {
		return patent.Patent{}, false, nil
	}
	p, ok := parsePatent(resp.Bag[0])
	return p, ok, nil
}
