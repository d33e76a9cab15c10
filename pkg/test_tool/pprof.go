package testtool

import (
	"net/http"
	_ "net/http/pprof" // 匯入後會自動註冊 pprof endpoint

	"chat_relay_service/pkg/logger"

	"go.uber.org/zap"
)

// StartPprof 啟動 pprof 監控伺服器 (只綁 127.0.0.1)
func StartPprof(enabled bool) {
	if !enabled {
		return
	}

	go func() {
		logger.Log.Info("Starting pprof server on 127.0.0.1:6060")
		if err := http.ListenAndServe("127.0.0.1:6060", nil); err != nil {
			logger.Log.Warn("pprof server failed", zap.Error(err))
		}
	}()
}
