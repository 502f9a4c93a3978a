package service

import (
	"bytes"
	"encoding/csv"
	"quizmark_backend/internal/model"
	"quizmark_backend/internal/util"
	"strings"
)

// encodeRoster 生成 list.csv，列顺序固定为 id,nom,prenom,email
func encodeRoster(entries []model.RosterEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(util.RosterHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write([]string{e.StudentID, e.LastName, e.FirstName, e.Email}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// decodeCSV 读取带表头的 CSV，每行转为 表头->值
func decodeCSV(data []byte) ([]map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []map[string]string{}, nil
	}
	header := records[0]
	if len(header) > 0 {
		// 表格软件导出时常带 BOM
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
