package service

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"fieldops/common/errors"
	"fieldops/internal/domain"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// JobImportHeader 导入模板表头
var JobImportHeader = []string{
	"Customer ID",
	"Service Type ID",
	"Title",
	"Description",
	"Service Address",
	"Scheduled Date",
	"Scheduled Time",
	"Estimated Duration",
	"Priority",
	"Special Instructions",
	"Estimated Price",
	"Assigned Manager ID",
}

const jobImportSheet = "Jobs"

// GenerateJobImportTemplate 生成导入模板
func GenerateJobImportTemplate() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(jobImportSheet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sheet")
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, errors.Wrap(err, "failed to delete default sheet")
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create header style")
	}
	// 日期 / 时间列按文本存储，避免被 Excel 转成序列号
	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create text style")
	}

	for col, header := range JobImportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(jobImportSheet, cell, header); err != nil {
			return nil, errors.Wrapf(err, "failed to set header cell %s", cell)
		}
		if err := f.SetCellStyle(jobImportSheet, cell, cell, headerStyle); err != nil {
			return nil, errors.Wrap(err, "failed to set header style")
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(jobImportSheet, name, name, 20); err != nil {
			return nil, errors.Wrap(err, "failed to set column width")
		}
	}
	if err := f.SetColStyle(jobImportSheet, "F:G", textStyle); err != nil {
		return nil, errors.Wrap(err, "failed to set text columns")
	}
	if err := f.SetPanes(jobImportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, errors.Wrap(err, "failed to freeze panes")
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to write workbook")
	}
	return buf.Bytes(), nil
}

// ImportRowError 单行导入失败
type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportJobsResponse 导入结果
type ImportJobsResponse struct {
	Created []string         `json:"created"`
	Errors  []ImportRowError `json:"errors"`
}

// ImportJobs 逐行走 CreateJob；单行失败不影响其他行
func (s *JobService) ImportJobs(ctx context.Context, actor *domain.Actor, r io.Reader) (*ImportJobsResponse, error) {
	if err := s.authz.Require(actor, ActionImportJobs); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid xlsx file"), errors.ErrValidation)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.Validationf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rows")
	}
	if len(rows) == 0 {
		return nil, errors.Validationf("workbook is empty")
	}

	columns := map[string]int{}
	for i, h := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"customer id", "service type id", "title", "service address", "scheduled date", "scheduled time"} {
		if _, ok := columns[required]; !ok {
			return nil, errors.Validationf("missing column %q", required)
		}
	}

	out := &ImportJobsResponse{Created: []string{}, Errors: []ImportRowError{}}
	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		req := CreateJobRequest{
			Actor:               actor,
			CustomerID:          cell("customer id"),
			ServiceTypeID:       cell("service type id"),
			Title:               cell("title"),
			Description:         cell("description"),
			ServiceAddress:      cell("service address"),
			ScheduledDate:       normalizeSheetDate(cell("scheduled date")),
			ScheduledTime:       cell("scheduled time"),
			Priority:            strings.ToLower(cell("priority")),
			SpecialInstructions: cell("special instructions"),
			AssignedManagerID:   cell("assigned manager id"),
		}
		if v := cell("estimated duration"); v != "" {
			d, err := strconv.Atoi(v)
			if err != nil {
				out.Errors = append(out.Errors, ImportRowError{Row: rowNum, Error: "invalid estimated duration: " + v})
				continue
			}
			req.EstimatedDuration = &d
		}
		if v := cell("estimated price"); v != "" {
			p, err := strconv.ParseFloat(v, 64)
			if err != nil {
				out.Errors = append(out.Errors, ImportRowError{Row: rowNum, Error: "invalid estimated price: " + v})
				continue
			}
			req.EstimatedPrice = &p
		}

		job, err := s.CreateJob(ctx, req)
		if err != nil {
			msg := err.Error()
			if errors.Kind(err) == nil {
				msg = "internal error"
				s.logger.Error("Job import row failed", zap.Int("row", rowNum), zap.Error(err))
			}
			out.Errors = append(out.Errors, ImportRowError{Row: rowNum, Error: msg})
			continue
		}
		out.Created = append(out.Created, job.JobID)
	}

	s.logger.Info("Job import finished",
		zap.String("actor", actor.ProfileID),
		zap.Int("created", len(out.Created)),
		zap.Int("failed", len(out.Errors)),
	)
	return out, nil
}

// normalizeSheetDate 兼容 Excel 常见的日期显示格式
func normalizeSheetDate(v string) string {
	for _, layout := range []string{domain.DateLayout, "01-02-06", "1/2/06", "1/2/2006", "2006/1/2"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(domain.DateLayout)
		}
	}
	return v
}
