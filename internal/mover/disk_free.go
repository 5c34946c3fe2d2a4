// disk_free.go — получение свободного места на томе.
// Платформозависимый код для Unix-подобных систем.
package mover

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// diskFree возвращает количество доступных байт на томе, содержащем path.
func diskFree(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// ownerOf извлекает uid и gid файла из результата stat.
func ownerOf(info os.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}

// isCrossDevice сообщает, вызвана ли ошибка rename переходом между томами.
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
