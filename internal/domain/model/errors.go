package model

import "errors"

// Ошибки предметной области. Сервисы оборачивают их через %w,
// HTTP-слой сопоставляет их с кодами ответа через errors.Is.
var (
	// ErrArchiveExists — в корне уже есть archive.json
	ErrArchiveExists = errors.New("архив уже инициализирован")
	// ErrArchiveNotFound — archive.json отсутствует
	ErrArchiveNotFound = errors.New("архив не найден")

	// ErrSourceNotFound — исходный файл не существует или недоступен
	ErrSourceNotFound = errors.New("исходный файл не найден")
	// ErrNotRegularFile — источник не является обычным файлом
	ErrNotRegularFile = errors.New("источник не является обычным файлом")

	// ErrUnknownProfile — profile_id не соответствует ни одному профилю
	ErrUnknownProfile = errors.New("неизвестный профиль")
	// ErrProfileNotFound — профиль не найден в хранилище профилей
	ErrProfileNotFound = errors.New("профиль не найден")
	// ErrProfileInUse — профиль используется активами
	ErrProfileInUse = errors.New("профиль используется активами")
	// ErrInvalidProfile — профиль не прошёл валидацию
	ErrInvalidProfile = errors.New("невалидный профиль")

	// ErrRequiredField — обязательное поле отсутствует или пустое
	ErrRequiredField = errors.New("обязательное поле не заполнено")
	// ErrInvalidFieldValue — значение не соответствует типу поля
	ErrInvalidFieldValue = errors.New("недопустимое значение поля")

	// ErrAssetNotFound — актив не найден
	ErrAssetNotFound = errors.New("актив не найден")
	// ErrInvalidQuery — некорректный поисковый запрос
	ErrInvalidQuery = errors.New("некорректный запрос")

	// ErrVerifyInProgress — проверка целостности уже выполняется
	ErrVerifyInProgress = errors.New("проверка целостности уже выполняется")
	// ErrDestinationNotEmpty — каталог экспорта не пуст
	ErrDestinationNotEmpty = errors.New("каталог назначения не пуст")
	// ErrInvalidExport — некорректные параметры экспорта
	ErrInvalidExport = errors.New("некорректные параметры экспорта")
	// ErrPublishNotConfigured — внешнее хранилище для публикации не настроено
	ErrPublishNotConfigured = errors.New("публикация экспорта не настроена")
)
