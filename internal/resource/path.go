// Package resource はモデルやカスケードなどの同梱ファイルの場所を解決する。
package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var (
	// リソースファイルの基準ディレクトリ
	BaseDir string
)

func init() {
	BaseDir = detectBaseDir()
}

func detectBaseDir() string {
	// 実行ファイルのディレクトリを取得
	execDir, err := os.Executable()
	if err != nil {
		execDir = "."
	}
	execDir = filepath.Dir(execDir)

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return execDir
	}

	// 開発モード時はプロジェクトルートを使用
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
		return projectRoot
	}
	return execDir
}

// パスをベースディレクトリ基準で解決する。絶対パスはそのまま返す
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(BaseDir, path)
}

// パスを解決し、通常ファイルとして存在することを確認する
func Locate(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("ファイルパスが指定されていません")
	}
	resolved := ResolvePath(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("リソースが見つかりません: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("リソースがディレクトリです: %s", resolved)
	}
	return resolved, nil
}
