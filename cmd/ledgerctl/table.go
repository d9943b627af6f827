package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
)

const stampLayout = "2006-01-02 15:04"

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	right := make(map[int]bool, len(rightAligned))
	for _, col := range rightAligned {
		right[col] = true
	}
	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if right[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

var entitlementHeaders = []string{"ID", "User", "Asset", "Status", "Source", "Owned", "Cost", "Points", "Created"}

func entitlementRow(e entitlements.Entitlement) []string {
	owned := "no"
	if e.Owned {
		owned = "yes"
	}
	return []string{
		e.ID.String(),
		strconv.FormatInt(e.UserID, 10),
		strconv.FormatInt(e.AssetID, 10),
		string(e.Status),
		string(e.Source),
		owned,
		e.CostAmount + " " + e.Currency,
		strconv.Itoa(e.PointsSpent),
		e.CreatedAt.Local().Format(stampLayout),
	}
}

func renderEntitlements(items []entitlements.Entitlement) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, entitlementRow(item))
	}
	return renderTable(entitlementHeaders, rows, 1, 2, 6, 7)
}
