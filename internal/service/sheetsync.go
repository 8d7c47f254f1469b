package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"armt-platform/internal/config"
	"armt-platform/internal/model"
)

// LicenseSyncer 同步许可证到外部表格
type LicenseSyncer interface {
	SyncLicense(ctx context.Context, license *model.License) error
	BatchSyncLicenses(ctx context.Context, licenses []model.License) error
}

// SheetSyncService 每个许可证一行写入 Google Sheet，数据以数据库为准。nil 表示未启用
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           *slog.Logger
}

// NewSheetSyncService 未启用时返回 nil
func NewSheetSyncService(ctx context.Context, cfg config.SheetsConfig, log *slog.Logger) (*SheetSyncService, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	// 读取凭证文件
	b, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}

	// 使用服务账号授权
	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("load sheets credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return NewSheetSyncServiceWithClient(srv, cfg.SpreadsheetID, cfg.SheetName, log), nil
}

// NewSheetSyncServiceWithClient 使用已配置的 sheets 客户端
func NewSheetSyncServiceWithClient(srv *sheets.Service, spreadsheetID, sheetName string, log *slog.Logger) *SheetSyncService {
	if log == nil {
		log = slog.Default()
	}
	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           log,
	}
}

// SyncLicense 更新或追加许可证所在行
func (s *SheetSyncService) SyncLicense(ctx context.Context, license *model.License) error {
	if s == nil {
		return nil
	}

	// 先检查Sheet中是否已存在该Key
	keyResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A2:A").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read sheet keys: %w", err)
	}

	rowIndex := 0
	for i, row := range keyResp.Values {
		if len(row) > 0 && row[0] == license.Key {
			rowIndex = i + 2 // 数据从第二行开始
			break
		}
	}

	values := &sheets.ValueRange{Values: [][]interface{}{licenseRow(license)}}
	if rowIndex > 0 {
		rangeData := fmt.Sprintf("%s!A%d:J%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A2:J", values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("write sheet row for %s: %w", license.Key, err)
	}

	s.log.DebugContext(ctx, "license synced to sheet", "key", license.Key, "row", rowIndex)
	return nil
}

// BatchSyncLicenses 覆盖 Sheet 全部数据行
func (s *SheetSyncService) BatchSyncLicenses(ctx context.Context, licenses []model.License) error {
	if s == nil {
		return nil
	}

	values := make([][]interface{}, 0, len(licenses))
	for i := range licenses {
		values = append(values, licenseRow(&licenses[i]))
	}

	rangeData := s.sheetName + "!A2:J"
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}
	if len(values) == 0 {
		return nil
	}
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch sync licenses: %w", err)
	}

	s.log.InfoContext(ctx, "licenses synced to sheet", "count", len(values))
	return nil
}

// licenseRow 对应 A..J 列，不导出设备哈希
func licenseRow(license *model.License) []interface{} {
	bound := "no"
	if license.IsBound() {
		bound = "yes"
	}
	activated := ""
	if license.ActivationDate != nil {
		activated = license.ActivationDate.Format(time.RFC3339)
	}
	return []interface{}{
		license.Key,
		strconv.FormatUint(uint64(license.UserID), 10),
		strconv.FormatBool(license.Active),
		bound,
		license.ActivationCount,
		license.ActivationLimit,
		license.ExpiresAt.Format(time.RFC3339),
		activated,
		license.CreatedAt.Format(time.RFC3339),
		license.UpdatedAt.Format(time.RFC3339),
	}
}
