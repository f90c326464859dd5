package linker

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	lerr "github.com/tangzhangming/solar/internal/errors"
	"github.com/tangzhangming/solar/internal/image"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 镜像采纳
// ============================================================================

// sanityCheckImage 采纳前的对象图健全性扫描
func sanityCheckImage(img *image.File) error {
	var err error
	if len(img.Containers()) == 0 {
		err = multierr.Append(err, lerr.Newf(lerr.KindInternal,
			"image %s carries no containers", img.Location()))
	}
	for _, mc := range img.Methods() {
		if mc.Container == nil || mc.Code == nil {
			err = multierr.Append(err, lerr.Newf(lerr.KindInternal,
				"image %s has dangling method entry", img.Location()))
			continue
		}
		if mc.Container.ClassDef(mc.ClassDefIdx) == nil {
			err = multierr.Append(err, lerr.Newf(lerr.KindInternal,
				"image method entry references bad class def %d", mc.ClassDefIdx))
		}
	}
	for _, sec := range []image.Section{image.SectionClassRoots, image.SectionDexCaches, image.SectionMethods} {
		if !img.Contains(sec, img.SectionOffset(sec)) {
			err = multierr.Append(err, lerr.Newf(lerr.KindInternal,
				"image section %d is empty or mislaid", sec))
		}
	}
	return err
}

// InitFromImage 采纳一份预链接镜像后完成引导
//
// 镜像容器并入引导类路径，蹦床换成镜像头里的指针，方法节作为
// AOT 代码来源。非编译器进程必须匹配镜像指针宽度；纯解释模式下
// 不再使用镜像里的代码，入口点按无 AOT 代码的方法选取。
func (l *Linker) InitFromImage(self *rt.Thread, img *image.File) error {
	if l.initDone {
		return lerr.Newf(lerr.KindInternal, "linker already bootstrapped")
	}
	hdr := img.Header()
	if !l.cfg.Runtime.AotCompiler && hdr.PointerSize != kPointerSize {
		// 非编译器进程跑不了异宽镜像，直接致命
		return lerr.Newf(lerr.KindInternal,
			"image %s pointer size %d does not match runtime pointer size %d",
			img.Location(), hdr.PointerSize, kPointerSize)
	}
	if err := sanityCheckImage(img); err != nil {
		return lerr.Wrapf(lerr.KindInternal, err, "image %s failed sanity sweep", img.Location())
	}

	// 镜像头里的蹦床整组接管
	tramps := hdr.Tramps
	if tramps.ProxyInvoke == nil {
		tramps.ProxyInvoke = l.tramps.ProxyInvoke
	}
	l.tramps = tramps
	l.imtUnimplemented.entrypoint = tramps.ToInterpreter
	l.imtConflict.entrypoint = tramps.IMTConflict
	l.resolutionMethod.entrypoint = tramps.Resolution

	l.imageFile = img
	if l.cfg.Runtime.InterpretOnly {
		// 停用方法节里的代码，linkCode 按无 AOT 代码选入口点
		l.imageCodeDisabled = true
		l.log.Info("interpret-only runtime, resetting image method entrypoints",
			zap.Int("methods", len(img.Methods())))
	}

	// 镜像容器并入引导类路径
	if err := l.InitWithoutImage(self, img.Containers()); err != nil {
		return err
	}
	l.log.Info("adopted image",
		zap.String("location", img.Location()),
		zap.Int("containers", len(img.Containers())),
		zap.Int("aot_methods", len(img.Methods())))
	return nil
}
