// instance_lock.go — блокировка единственного экземпляра через flock.
// Платформозависимый код для Unix-подобных систем.
package main

import (
	"fmt"
	"os"
	"syscall"
)

// instanceLock держит открытый дескриптор lock-файла на время жизни процесса.
type instanceLock struct {
	file *os.File
}

// acquireInstanceLock берёт эксклюзивный неблокирующий flock на lockPath.
// Возвращает ошибку, если другой экземпляр уже держит блокировку.
func acquireInstanceLock(lockPath string) (*instanceLock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("открытие lock-файла %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("блокировка %s занята другим экземпляром: %w", lockPath, err)
	}

	// PID в lock-файле упрощает диагностику зависшей блокировки
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return &instanceLock{file: f}, nil
}

// Release снимает блокировку и закрывает lock-файл.
func (l *instanceLock) Release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
