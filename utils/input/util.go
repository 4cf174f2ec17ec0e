package input

import (
	"os"
)

// mapCacheDir 城市地图下载缓存目录
// 说明：目录为空或不是已存在的文件夹时返回空串，此时每次启动都从MongoDB重新下载地图
func mapCacheDir(dir string) string {
	if dir == "" {
		log.Info("map cache disabled")
		return ""
	}
	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		log.Errorf("map cache disabled: %s is not a directory", dir)
		return ""
	}
	log.Infof("map cache at %s", dir)
	return dir
}
