package inventory

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/xuri/excelize/v2"

	"github.com/simonrho/mist-adopt/internal/adopt"
	"github.com/simonrho/mist-adopt/pkg/logger"
)

// requiredColumns 清单必备列，按展示顺序排列
var requiredColumns = []string{"org_id", "site_id", "ip", "user_id", "password"}

// Load 读取 xlsx 设备清单的首个工作表。
// 表头行必须包含全部必备列（大小写不敏感，忽略空白），任一数据行缺值即报错；
// 同一 ip 出现多次时保留最后一行。
func Load(path string) ([]adopt.DeviceRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory file %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("inventory file %s has no sheets", path)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("inventory sheet %s is empty", sheet)
	}

	// 定位表头列位置
	index := map[string]int{}
	for i, cell := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(cell))
		if name != "" {
			index[name] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("inventory sheet %s missing required column: %s", sheet, col)
		}
	}

	cell := func(row []string, col string) string {
		i := index[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]adopt.DeviceRecord, 0, len(rows)-1)
	seen := map[string]int{}
	for n, row := range rows[1:] {
		// 整行为空的行直接跳过
		empty := true
		for _, col := range requiredColumns {
			if cell(row, col) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		for _, col := range requiredColumns {
			if cell(row, col) == "" {
				return nil, fmt.Errorf("inventory row %d missing value for column %s", n+2, col)
			}
		}

		record := adopt.DeviceRecord{
			OrgID:    cell(row, "org_id"),
			SiteID:   cell(row, "site_id"),
			IP:       cell(row, "ip"),
			Username: cell(row, "user_id"),
			Password: cell(row, "password"),
		}

		// 同 ip 以最后一行为准
		if pos, dup := seen[record.IP]; dup {
			logger.Warn("Duplicate device ip in inventory; keeping last", "ip", record.IP)
			records[pos] = record
			continue
		}
		seen[record.IP] = len(records)
		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("inventory sheet %s has no device rows", sheet)
	}
	return records, nil
}

// Dump 以表格形式打印清单，密码列以等长 * 号掩码
func Dump(w io.Writer, records []adopt.DeviceRecord) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ORG_ID", "SITE_ID", "IP", "USER_ID", "PASSWORD"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for _, r := range records {
		table.Append([]string{
			displayCell(r.OrgID),
			displayCell(r.SiteID),
			displayCell(r.IP),
			displayCell(r.Username),
			maskCell(r.Password),
		})
	}
	table.Render()
}

func displayCell(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Empty"
	}
	return v
}

func maskCell(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Empty"
	}
	return strings.Repeat("*", len(v))
}
